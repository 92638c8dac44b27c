// Package socketcan drives a Linux SocketCAN interface (can0, vcan0, ...).
// Error frames are translated into alerts and bus-off recovery restarts the
// link. Setting the bitrate and bringing the link up or down needs
// CAP_NET_ADMIN; without it pass an interface that is already configured.
//
// The driver is only registered on Linux.
package socketcan
