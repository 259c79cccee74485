// Package unix plugs Unix domain sockets into the base transport, for clients
// running on the same machine as the server. Only the socket buffer sizes of
// common.SocketConf apply here.
package unix
