package transport

import (
	"github.com/richard-senior/podds/pkg/protocol"
)

// Transport carries JSON-RPC messages between the MCP client and the server
type Transport interface {
	ReadRequest() (*protocol.JsonRpcRequest, error)
	WriteResponse(*protocol.JsonRpcResponse) error
}
