// Package common holds the types shared by the RPC server, the RPC client and
// the transports: the Message protocol, server/client configuration and the
// logger factory handed to Dragonboat.
//
// Key Components:
//
//   - Message: the single request/response structure. Which fields are set
//     depends on the MessageType. Errors travel as a message plus a
//     store.RetCode so the client can rebuild a *store.Error that still
//     matches schema.ErrUnsupportedSchemaVersion and schema.ErrMalformedValue.
//     A Get response may point into storage owned by the engine; the server
//     calls Message.Release once the response has been written.
//
//   - ServerConfig / ClientConfig: everything the cmd package reads from
//     flags, env vars and config files. ServerConfig converts to the
//     Dragonboat shard and node host configs.
//
//   - CreateLogger / InitLoggers: a logger.ILogger implementation with a
//     fixed column layout, installed as the Dragonboat logger factory so
//     that raft, storage engines and the RPC layer log the same way.
package common
