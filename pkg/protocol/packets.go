package protocol

import (
	"bytes"
)

// Kind identifies a typed packet independently of its numeric ID.
// The set is closed: every packet this server speaks has a Kind here.
type Kind int

const (
	KindHandshake Kind = iota + 1

	KindStatusRequest
	KindStatusResponse
	KindStatusPing
	KindStatusPong

	KindLoginStart
	KindLoginDisconnect
	KindEncryptionRequest
	KindEncryptionResponse
	KindLoginSuccess
	KindSetCompression

	KindKeepAlive
	KindJoinGame
	KindChatMessage
	KindClientChat
	KindSpawnPosition
	KindPlayerGround
	KindPlayerPosition
	KindPlayerLook
	KindPlayerPositionLook
	KindPositionLook
	KindClientSettings
	KindChunkData
	KindDisconnect
)

var kindNames = map[Kind]string{
	KindHandshake:          "Handshake",
	KindStatusRequest:      "StatusRequest",
	KindStatusResponse:     "StatusResponse",
	KindStatusPing:         "StatusPing",
	KindStatusPong:         "StatusPong",
	KindLoginStart:         "LoginStart",
	KindLoginDisconnect:    "LoginDisconnect",
	KindEncryptionRequest:  "EncryptionRequest",
	KindEncryptionResponse: "EncryptionResponse",
	KindLoginSuccess:       "LoginSuccess",
	KindSetCompression:     "SetCompression",
	KindKeepAlive:          "KeepAlive",
	KindJoinGame:           "JoinGame",
	KindChatMessage:        "ChatMessage",
	KindClientChat:         "ClientChat",
	KindSpawnPosition:      "SpawnPosition",
	KindPlayerGround:       "PlayerGround",
	KindPlayerPosition:     "PlayerPosition",
	KindPlayerLook:         "PlayerLook",
	KindPlayerPositionLook: "PlayerPositionLook",
	KindPositionLook:       "PositionLook",
	KindClientSettings:     "ClientSettings",
	KindChunkData:          "ChunkData",
	KindDisconnect:         "Disconnect",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// maxChunkPayload bounds the ChunkData byte array to what a frame can carry.
const maxChunkPayload = MaxPacketSize

// Handshake opens every connection and selects the next state.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

func (*Handshake) Kind() Kind { return KindHandshake }

func (p *Handshake) Encode(w *bytes.Buffer) error {
	WriteVarInt(w, p.ProtocolVersion)
	if err := WriteString(w, p.ServerAddress); err != nil {
		return err
	}
	WriteUint16(w, p.ServerPort)
	WriteVarInt(w, int32(p.NextState))
	return nil
}

func (p *Handshake) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.ProtocolVersion = f.varInt()
	p.ServerAddress = f.str()
	p.ServerPort = f.u16()
	p.NextState = State(f.varInt())
	return f.err
}

// StatusRequest asks for the server list entry. It has no fields.
type StatusRequest struct{}

func (*StatusRequest) Kind() Kind                   { return KindStatusRequest }
func (*StatusRequest) Encode(w *bytes.Buffer) error { return nil }
func (*StatusRequest) Decode(r *bytes.Reader) error { return nil }

// StatusResponse carries the server list JSON document.
type StatusResponse struct {
	JSON string
}

func (*StatusResponse) Kind() Kind { return KindStatusResponse }

func (p *StatusResponse) Encode(w *bytes.Buffer) error { return WriteString(w, p.JSON) }

func (p *StatusResponse) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.JSON = f.str()
	return f.err
}

// StatusPing is echoed back as a StatusPong.
type StatusPing struct {
	Payload int64
}

func (*StatusPing) Kind() Kind { return KindStatusPing }

func (p *StatusPing) Encode(w *bytes.Buffer) error { return WriteInt64(w, p.Payload) }

func (p *StatusPing) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Payload = f.i64()
	return f.err
}

type StatusPong struct {
	Payload int64
}

func (*StatusPong) Kind() Kind { return KindStatusPong }

func (p *StatusPong) Encode(w *bytes.Buffer) error { return WriteInt64(w, p.Payload) }

func (p *StatusPong) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Payload = f.i64()
	return f.err
}

// LoginStart carries the player name.
type LoginStart struct {
	Name string
}

func (*LoginStart) Kind() Kind { return KindLoginStart }

func (p *LoginStart) Encode(w *bytes.Buffer) error { return WriteString(w, p.Name) }

func (p *LoginStart) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Name = f.str()
	return f.err
}

// LoginDisconnect rejects a login with a JSON chat reason.
type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) Kind() Kind { return KindLoginDisconnect }

func (p *LoginDisconnect) Encode(w *bytes.Buffer) error { return WriteString(w, p.Reason) }

func (p *LoginDisconnect) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Reason = f.str()
	return f.err
}

// EncryptionRequest starts the key exchange. PublicKey is a DER encoded
// SubjectPublicKeyInfo.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
}

func (*EncryptionRequest) Kind() Kind { return KindEncryptionRequest }

func (p *EncryptionRequest) Encode(w *bytes.Buffer) error {
	if err := WriteString(w, p.ServerID); err != nil {
		return err
	}
	WriteByteArray(w, p.PublicKey)
	return WriteByteArray(w, p.VerifyToken)
}

func (p *EncryptionRequest) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.ServerID = f.str()
	p.PublicKey = f.byteArray(4096)
	p.VerifyToken = f.byteArray(256)
	return f.err
}

// EncryptionResponse returns the RSA encrypted shared secret and verify token.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) Kind() Kind { return KindEncryptionResponse }

func (p *EncryptionResponse) Encode(w *bytes.Buffer) error {
	WriteByteArray(w, p.SharedSecret)
	return WriteByteArray(w, p.VerifyToken)
}

func (p *EncryptionResponse) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.SharedSecret = f.byteArray(512)
	p.VerifyToken = f.byteArray(512)
	return f.err
}

// LoginSuccess ends the login phase. UUID is the hyphenated string form.
type LoginSuccess struct {
	UUID     string
	Username string
}

func (*LoginSuccess) Kind() Kind { return KindLoginSuccess }

func (p *LoginSuccess) Encode(w *bytes.Buffer) error {
	if err := WriteString(w, p.UUID); err != nil {
		return err
	}
	return WriteString(w, p.Username)
}

func (p *LoginSuccess) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.UUID = f.str()
	p.Username = f.str()
	return f.err
}

// SetCompression enables the compression layer for every later packet.
type SetCompression struct {
	Threshold int32
}

func (*SetCompression) Kind() Kind { return KindSetCompression }

func (p *SetCompression) Encode(w *bytes.Buffer) error {
	_, err := WriteVarInt(w, p.Threshold)
	return err
}

func (p *SetCompression) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Threshold = f.varInt()
	return f.err
}

// KeepAlive is sent in both directions with the same layout.
type KeepAlive struct {
	ID int32
}

func (*KeepAlive) Kind() Kind { return KindKeepAlive }

func (p *KeepAlive) Encode(w *bytes.Buffer) error {
	_, err := WriteVarInt(w, p.ID)
	return err
}

func (p *KeepAlive) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.ID = f.varInt()
	return f.err
}

// JoinGame moves the client into the world.
type JoinGame struct {
	EntityID         int32
	GameMode         byte
	Dimension        int8
	Difficulty       byte
	MaxPlayers       byte
	LevelType        string
	ReducedDebugInfo bool
}

func (*JoinGame) Kind() Kind { return KindJoinGame }

func (p *JoinGame) Encode(w *bytes.Buffer) error {
	WriteInt32(w, p.EntityID)
	WriteByte(w, p.GameMode)
	WriteByte(w, byte(p.Dimension))
	WriteByte(w, p.Difficulty)
	WriteByte(w, p.MaxPlayers)
	if err := WriteString(w, p.LevelType); err != nil {
		return err
	}
	return WriteBool(w, p.ReducedDebugInfo)
}

func (p *JoinGame) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.EntityID = f.i32()
	p.GameMode = f.u8()
	p.Dimension = int8(f.u8())
	p.Difficulty = f.u8()
	p.MaxPlayers = f.u8()
	p.LevelType = f.str()
	p.ReducedDebugInfo = f.boolean()
	return f.err
}

// Chat positions for ChatMessage.
const (
	ChatPositionChat   byte = 0
	ChatPositionSystem byte = 1
	ChatPositionHotbar byte = 2
)

// ChatMessage is a clientbound JSON chat component.
type ChatMessage struct {
	JSON     string
	Position byte
}

func (*ChatMessage) Kind() Kind { return KindChatMessage }

func (p *ChatMessage) Encode(w *bytes.Buffer) error {
	if err := WriteString(w, p.JSON); err != nil {
		return err
	}
	return WriteByte(w, p.Position)
}

func (p *ChatMessage) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.JSON = f.str()
	p.Position = f.u8()
	return f.err
}

// ClientChat is the raw text a player typed.
type ClientChat struct {
	Message string
}

func (*ClientChat) Kind() Kind { return KindClientChat }

func (p *ClientChat) Encode(w *bytes.Buffer) error { return WriteString(w, p.Message) }

func (p *ClientChat) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Message = f.str()
	return f.err
}

// SpawnPosition sets the compass target.
type SpawnPosition struct {
	X, Y, Z int32
}

func (*SpawnPosition) Kind() Kind { return KindSpawnPosition }

func (p *SpawnPosition) Encode(w *bytes.Buffer) error { return WritePosition(w, p.X, p.Y, p.Z) }

func (p *SpawnPosition) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.X, p.Y, p.Z = f.position()
	return f.err
}

// PlayerGround only reports whether the player stands on the ground.
type PlayerGround struct {
	OnGround bool
}

func (*PlayerGround) Kind() Kind { return KindPlayerGround }

func (p *PlayerGround) Encode(w *bytes.Buffer) error { return WriteBool(w, p.OnGround) }

func (p *PlayerGround) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.OnGround = f.boolean()
	return f.err
}

// PlayerPosition is a serverbound movement update. Y is the feet position.
type PlayerPosition struct {
	X, Y, Z  float64
	OnGround bool
}

func (*PlayerPosition) Kind() Kind { return KindPlayerPosition }

func (p *PlayerPosition) Encode(w *bytes.Buffer) error {
	WriteFloat64(w, p.X)
	WriteFloat64(w, p.Y)
	WriteFloat64(w, p.Z)
	return WriteBool(w, p.OnGround)
}

func (p *PlayerPosition) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.X = f.f64()
	p.Y = f.f64()
	p.Z = f.f64()
	p.OnGround = f.boolean()
	return f.err
}

type PlayerLook struct {
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerLook) Kind() Kind { return KindPlayerLook }

func (p *PlayerLook) Encode(w *bytes.Buffer) error {
	WriteFloat32(w, p.Yaw)
	WriteFloat32(w, p.Pitch)
	return WriteBool(w, p.OnGround)
}

func (p *PlayerLook) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Yaw = f.f32()
	p.Pitch = f.f32()
	p.OnGround = f.boolean()
	return f.err
}

type PlayerPositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerPositionLook) Kind() Kind { return KindPlayerPositionLook }

func (p *PlayerPositionLook) Encode(w *bytes.Buffer) error {
	WriteFloat64(w, p.X)
	WriteFloat64(w, p.Y)
	WriteFloat64(w, p.Z)
	WriteFloat32(w, p.Yaw)
	WriteFloat32(w, p.Pitch)
	return WriteBool(w, p.OnGround)
}

func (p *PlayerPositionLook) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.X = f.f64()
	p.Y = f.f64()
	p.Z = f.f64()
	p.Yaw = f.f32()
	p.Pitch = f.f32()
	p.OnGround = f.boolean()
	return f.err
}

// PositionLook teleports the client. Flags mark relative fields; 0 means all absolute.
type PositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      byte
}

func (*PositionLook) Kind() Kind { return KindPositionLook }

func (p *PositionLook) Encode(w *bytes.Buffer) error {
	WriteFloat64(w, p.X)
	WriteFloat64(w, p.Y)
	WriteFloat64(w, p.Z)
	WriteFloat32(w, p.Yaw)
	WriteFloat32(w, p.Pitch)
	return WriteByte(w, p.Flags)
}

func (p *PositionLook) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.X = f.f64()
	p.Y = f.f64()
	p.Z = f.f64()
	p.Yaw = f.f32()
	p.Pitch = f.f32()
	p.Flags = f.u8()
	return f.err
}

// ClientSettings reports locale and the client's own render distance.
type ClientSettings struct {
	Locale       string
	ViewDistance int8
	ChatMode     byte
	ChatColors   bool
	SkinParts    byte
}

func (*ClientSettings) Kind() Kind { return KindClientSettings }

func (p *ClientSettings) Encode(w *bytes.Buffer) error {
	if err := WriteString(w, p.Locale); err != nil {
		return err
	}
	WriteByte(w, byte(p.ViewDistance))
	WriteByte(w, p.ChatMode)
	WriteBool(w, p.ChatColors)
	return WriteByte(w, p.SkinParts)
}

func (p *ClientSettings) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Locale = f.str()
	p.ViewDistance = int8(f.u8())
	p.ChatMode = f.u8()
	p.ChatColors = f.boolean()
	p.SkinParts = f.u8()
	return f.err
}

// ChunkData sends one chunk column. A zero bit mask with GroundUp set unloads the column.
type ChunkData struct {
	X, Z           int32
	GroundUp       bool
	PrimaryBitMask uint16
	Data           []byte
}

func (*ChunkData) Kind() Kind { return KindChunkData }

func (p *ChunkData) Encode(w *bytes.Buffer) error {
	WriteInt32(w, p.X)
	WriteInt32(w, p.Z)
	WriteBool(w, p.GroundUp)
	WriteUint16(w, p.PrimaryBitMask)
	return WriteByteArray(w, p.Data)
}

func (p *ChunkData) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.X = f.i32()
	p.Z = f.i32()
	p.GroundUp = f.boolean()
	p.PrimaryBitMask = f.u16()
	p.Data = f.byteArray(maxChunkPayload)
	return f.err
}

// Disconnect kicks a player during play.
type Disconnect struct {
	Reason string
}

func (*Disconnect) Kind() Kind { return KindDisconnect }

func (p *Disconnect) Encode(w *bytes.Buffer) error { return WriteString(w, p.Reason) }

func (p *Disconnect) Decode(r *bytes.Reader) error {
	f := fieldReader{r: r}
	p.Reason = f.str()
	return f.err
}
