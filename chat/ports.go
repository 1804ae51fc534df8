package chat

// Outgoing is one user turn handed to the delivery channel.
type Outgoing struct {
	Token string
	Body  string
	Mode  Mode
}

// Upload is a staged file picked by the user.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Subscription detaches a handler registered on a delivery channel.
// Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe()
}
