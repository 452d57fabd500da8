package ws

import "context"

type IHub interface {
	Run(ctx context.Context)
	RegisterClient(client *UserClient)
	UnregisterClient(client *UserClient)
	SendToClient(userID string, message []byte)
	GetClientCount() int
}
