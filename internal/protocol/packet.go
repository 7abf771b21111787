// Package protocol defines the closed catalog of packet kinds exchanged
// with chat clients, the enumerated result codes carried by confirmation
// packets, and the JSON wire codec.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Kind identifies a packet type on the wire.
type Kind string

const (
	KindLegacyAccess   Kind = "legacy_access"
	KindAccess         Kind = "access"
	KindPasswordAccess Kind = "password_access"
	KindAuthenticate   Kind = "authenticate"
	KindEnterRoom      Kind = "enter_room"
	KindExitRoom       Kind = "exit_room"
	KindEnterPrivate   Kind = "enter_private"
	KindExitPrivate    Kind = "exit_private"
	KindChat           Kind = "chat"
	KindWhisper        Kind = "whisper"
	KindBeep           Kind = "beep"
	KindKick           Kind = "kick"
	KindUserList       Kind = "user_list"
	KindRoomList       Kind = "room_list"
	KindCreateRooms    Kind = "create_rooms"
	KindPing           Kind = "ping"
)

// knownKinds is the closed set accepted by Decode.
var knownKinds = map[Kind]bool{
	KindLegacyAccess: true, KindAccess: true, KindPasswordAccess: true,
	KindAuthenticate: true, KindEnterRoom: true, KindExitRoom: true,
	KindEnterPrivate: true, KindExitPrivate: true, KindChat: true,
	KindWhisper: true, KindBeep: true, KindKick: true,
	KindUserList: true, KindRoomList: true, KindCreateRooms: true,
	KindPing: true,
}

// Result is the enumerated outcome carried by confirmation packets.
type Result string

const (
	ResultOK            Result = "ok"
	ResultRoomFull      Result = "room_full"
	ResultNameTaken     Result = "name_taken"
	ResultNoSuchRoom    Result = "no_such_room"
	ResultMemberTaken   Result = "member_taken"
	ResultBadPassword   Result = "bad_password"
	ResultHostDenied    Result = "host_denied"
	ResultDocDenied     Result = "document_denied"
	ResultVersionDenied Result = "version_denied"
	ResultHostDuplicate Result = "host_duplicate"
)

// KickMethod selects the severity of a kick request.
type KickMethod string

const (
	KickRemove     KickMethod = "remove"
	KickDisconnect KickMethod = "disconnect"
	KickBan        KickMethod = "ban"
)

// UserInfo is one occupant entry in roster and user-list packets.
// Host is omitted for non-monitor recipients.
type UserInfo struct {
	Name     string `json:"name"`
	Profile  string `json:"profile,omitempty"`
	Host     string `json:"host,omitempty"`
	IsMember bool   `json:"is_member,omitempty"`
	ShowLink bool   `json:"show_link,omitempty"`
}

var (
	ErrUnknownKind = errors.New("unknown packet kind")
	ErrBadPayload  = errors.New("malformed packet payload")
)

// Packet is the single wire message shape. Fields are populated per
// kind; unused fields are omitted from the encoding. The handled flag
// is connection-local state and never crosses the wire.
type Packet struct {
	Kind Kind `json:"kind"`

	// Admission.
	DocumentBase string `json:"document_base,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
	Version      string `json:"version,omitempty"`
	MemberName   string `json:"member_name,omitempty"`
	Password     string `json:"password,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Signature    string `json:"signature,omitempty"`

	// Room addressing and content.
	RoomName string     `json:"room,omitempty"`
	RoomID   int64      `json:"room_id,omitempty"`
	UserName string     `json:"user,omitempty"`
	ToName   string     `json:"to,omitempty"`
	FromName string     `json:"from,omitempty"`
	Profile  string     `json:"profile,omitempty"`
	Host     string     `json:"host,omitempty"`
	Text     string     `json:"text,omitempty"`
	Question bool       `json:"question,omitempty"`
	Method   KickMethod `json:"method,omitempty"`

	// Roster and directory payloads.
	Rooms  []string   `json:"rooms,omitempty"`
	Users  []UserInfo `json:"users,omitempty"`
	Filter string     `json:"filter,omitempty"`
	Count  int        `json:"count,omitempty"`

	// Confirmation outcome.
	Result Result `json:"result,omitempty"`

	// Accessed only through the sync/atomic functions so the struct
	// stays copyable in Clone.
	handled int32
}

// MarkHandled sets the one-shot handled flag. It returns true for
// exactly one caller; later callers get false.
func (p *Packet) MarkHandled() bool {
	return atomic.CompareAndSwapInt32(&p.handled, 0, 1)
}

// Handled reports whether some handler has claimed this packet.
func (p *Packet) Handled() bool {
	return atomic.LoadInt32(&p.handled) == 1
}

// Clone returns a copy of the packet with a fresh handled flag. Used to
// build per-recipient variants from canonical event data without
// aliasing the original.
func (p *Packet) Clone() *Packet {
	c := *p
	c.handled = 0
	return &c
}

// Confirm returns a confirmation packet for a request: same kind and
// addressing, with the given result code.
func Confirm(req *Packet, result Result) *Packet {
	return &Packet{
		Kind:     req.Kind,
		RoomName: req.RoomName,
		RoomID:   req.RoomID,
		UserName: req.UserName,
		Result:   result,
	}
}

// Encode serializes a packet for the wire.
func Encode(p *Packet) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a wire message, rejecting unknown kinds.
func Decode(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !knownKinds[p.Kind] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return &p, nil
}
