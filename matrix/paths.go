package matrix

import (
	"fmt"
	"net/url"
)

// Client-server API path builders. Every identifier that lands in a URL
// path segment is percent-encoded; room ids and event ids carry characters
// (!, $, :) that must not be taken as structure.

func pathLogin() string    { return "/_matrix/client/v3/login" }
func pathSync() string     { return "/_matrix/client/v3/sync" }
func pathJoinedRooms() string { return "/_matrix/client/v3/joined_rooms" }

func pathRoomMessages(roomID string) string {
	return fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID))
}

func pathRoomState(roomID, eventType, stateKey string) string {
	return fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID), url.PathEscape(eventType), url.PathEscape(stateKey))
}

func pathRoomEvent(roomID, eventID string) string {
	return fmt.Sprintf("/_matrix/client/v3/rooms/%s/event/%s",
		url.PathEscape(roomID), url.PathEscape(eventID))
}

func pathSendEvent(roomID, eventType, txnID string) string {
	return fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID), url.PathEscape(eventType), url.PathEscape(txnID))
}

func pathKeysQuery() string { return "/_matrix/client/v3/keys/query" }
func pathKeysClaim() string { return "/_matrix/client/v3/keys/claim" }

func pathUpload(filename string) string {
	return "/_matrix/media/v3/upload?filename=" + url.QueryEscape(filename)
}
