package messages

var (
	msgPrefix   = []byte("msg/")
	msgIDPrefix = []byte("msgid/")
)

// msgKey builds the primary row key. IDs are time-ordered, so iterating a
// channel prefix yields commit order.
func msgKey(channel, id string) []byte {
	k := make([]byte, 0, len(msgPrefix)+len(channel)+len(id)+1)
	k = append(k, msgPrefix...)
	k = append(k, channel...)
	k = append(k, '/')
	k = append(k, id...)
	return k
}

// msgChannelPrefix builds the scan prefix for one channel.
func msgChannelPrefix(channel string) []byte {
	k := make([]byte, 0, len(msgPrefix)+len(channel)+1)
	k = append(k, msgPrefix...)
	k = append(k, channel...)
	k = append(k, '/')
	return k
}

// msgIDKey builds the id index key, mapping message id to channel.
func msgIDKey(id string) []byte {
	k := make([]byte, 0, len(msgIDPrefix)+len(id))
	k = append(k, msgIDPrefix...)
	k = append(k, id...)
	return k
}
