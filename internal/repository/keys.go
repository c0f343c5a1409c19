package repository

const (
	roomKeyPrefix    = "lan:room:"
	mailboxKeyPrefix = "lan:messages:"
)

func roomKey(id string) string {
	return roomKeyPrefix + id
}

func mailboxKey(roomID string) string {
	return mailboxKeyPrefix + roomID
}

// Pastes live under their bare id.
func pasteKey(id string) string {
	return id
}
