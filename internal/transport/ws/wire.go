package ws

import "github.com/basket/appcd/internal/dispatcher"

// Request is the inbound wire envelope (spec.md §6).
type Request struct {
	Version string `json:"version" msgpack:"version"`
	ID      string `json:"id" msgpack:"id"`
	Path    string `json:"path" msgpack:"path"`
	Data    any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Type    string `json:"type,omitempty" msgpack:"type,omitempty"`
}

func (r Request) messageType() dispatcher.MessageType {
	switch r.Type {
	case "subscribe":
		return dispatcher.TypeSubscribe
	case "unsubscribe":
		return dispatcher.TypeUnsubscribe
	default:
		return dispatcher.TypeCall
	}
}

// Response is the outbound wire envelope (spec.md §6).
type Response struct {
	ID         string `json:"id" msgpack:"id"`
	Status     int    `json:"status" msgpack:"status"`
	StatusCode string `json:"statusCode,omitempty" msgpack:"statusCode,omitempty"`
	Message    any    `json:"message" msgpack:"message"`
}
