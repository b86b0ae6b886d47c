package driven

import "context"

// Bus is a publish-subscribe broadcast channel.
// Delivery is at-most-once: a subscriber that is disconnected when a
// message is published never receives it.
type Bus interface {
	// Publish broadcasts payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers for messages on topic. Messages are delivered on the
	// returned channel until ctx is cancelled or the subscription is closed,
	// after which the channel is closed.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close releases resources and closes every subscription.
	Close() error
}

// Subscription is a live registration on a bus topic.
type Subscription interface {
	// Messages returns the delivery channel.
	Messages() <-chan []byte

	// Close ends the subscription and closes the delivery channel.
	Close() error
}
