// Package websocket provides a network driven.Bus built on
// gorilla/websocket.
//
// A Hub is an HTTP service that relays messages between processes:
// publishers POST to /topics/{topic} and subscribers hold a websocket on
// /topics/{topic}/subscribe. Bus is the client side used by workers and
// serving nodes. Delivery is at-most-once: a subscriber that is
// reconnecting when a message is relayed never receives it.
package websocket
