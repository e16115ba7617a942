package domain

// MessageBus carries inbound messages from the session to their consumers.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
