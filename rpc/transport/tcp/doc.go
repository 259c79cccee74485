// Package tcp plugs TCP sockets into the base transport. Both sides apply the
// configured common.SocketConf and common.TCPConf options (Nagle, keep alive,
// linger and socket buffer sizes) to every connection.
package tcp
