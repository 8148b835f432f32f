package protocol

type MessageType uint8

const (
	MessageTypeInit    MessageType = 1
	MessageTypeRatchet MessageType = 2
	MessageTypeRekey   MessageType = 3
	MessageTypeBundle  MessageType = 4
	MessageTypeClose   MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeInit:
		return "INIT"
	case MessageTypeRatchet:
		return "RATCHET"
	case MessageTypeRekey:
		return "REKEY"
	case MessageTypeBundle:
		return "BUNDLE"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

func (t MessageType) valid() bool {
	return t >= MessageTypeInit && t <= MessageTypeClose
}
