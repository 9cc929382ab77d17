// Package domain contains entity types without logic, just meta-data.
package domain

type RoomName string

// DefaultRoom is where every session lands right after connecting.
// It exists from startup and is never deleted.
const DefaultRoom RoomName = "Main"

// Lifecycle notices relayed to room members. These are wire text, not
// log messages; clients render them verbatim.
const (
	NoticeJoined       = "Someone joined!!"
	NoticeDisconnected = "Someone Disconnected!!"
	NoticeConnected    = "Someone Connected!!"
)
