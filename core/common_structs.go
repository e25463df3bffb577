package core

// common_structs.go – centralised struct definitions referenced across the
// protocol core. Kept deliberately small: this is the shared vocabulary
// between the wire codec, the connection layer, the transport state machine
// and the peer/node FSM, not a dumping ground for domain types that belong
// to the blockchain layer this package only transports.

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
)

// Hash is a 32-byte content hash. Display is hex, reversed, matching the
// convention used throughout the bitcoin wire protocol (spec §4.1) and
// implemented here by aliasing the well-tested chainhash package rather than
// hand-rolling byte reversal.
type Hash = chainhash.Hash

// NodeID identifies a remote participant, independent of transport. For an
// inbound/outbound TCP peer this is usually "host:port"; it exists as a
// distinct type so callers cannot accidentally pass a raw address where a
// resolved peer identity is expected.
type NodeID string

//---------------------------------------------------------------------
// Configuration (recognized options — spec §6)
//---------------------------------------------------------------------

// Config is the unified, viper-loaded node configuration. Field names mirror
// the dotted keys spec §6 recognizes (listen.*, peers.seed, network.*,
// limits.*, workers.count).
type Config struct {
	Listen struct {
		Transport string `mapstructure:"transport" json:"transport"` // "tcp" or "tls"
		Host      string `mapstructure:"host" json:"host"`
		Port      int    `mapstructure:"port" json:"port"`
		TLSCert   string `mapstructure:"tls_cert" json:"tls_cert"`
		TLSKey    string `mapstructure:"tls_key" json:"tls_key"`
	} `mapstructure:"listen" json:"listen"`

	Peers struct {
		Seed []string `mapstructure:"seed" json:"seed"`
	} `mapstructure:"peers" json:"peers"`

	Network struct {
		Magic           uint32 `mapstructure:"magic" json:"magic"`
		ProtocolVersion int32  `mapstructure:"protocol_version" json:"protocol_version"`
		UserAgent       string `mapstructure:"user_agent" json:"user_agent"`
	} `mapstructure:"network" json:"network"`

	Limits struct {
		MaxPayload       uint32        `mapstructure:"max_payload" json:"max_payload"`
		MaxPeers         int           `mapstructure:"max_peers" json:"max_peers"`
		PingInterval     time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
		PongTimeout      time.Duration `mapstructure:"pong_timeout" json:"pong_timeout"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	} `mapstructure:"limits" json:"limits"`

	Workers struct {
		Count int `mapstructure:"count" json:"count"`
	} `mapstructure:"workers" json:"workers"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

//---------------------------------------------------------------------
// Inter-component message envelopes
//---------------------------------------------------------------------

// InboundMsg is a decoded frame handed from a Transport to a subscriber
// (replication, health logging, ...). Code is not set by
// PeerManagement's fan-out and is always zero there; subscribers dispatch
// on Command.
type InboundMsg struct {
	PeerID  string `json:"peer_id"`
	Command string `json:"command"`
	Code    byte   `json:"code"`
	Payload []byte `json:"payload"`
	Ts      int64  `json:"ts"`
}

// NetworkMessage is the generic pub/sub envelope used by components that
// broadcast opaque payloads on a named topic (e.g. orphan block gossip)
// rather than a specific wire command.
type NetworkMessage struct {
	Topic     string `json:"topic"`
	Content   []byte `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// PeerInfo is the externally visible snapshot of one peer's session state,
// returned by PeerManager.Peers() for status/CLI consumption.
type PeerInfo struct {
	ID        NodeID        `json:"id"`
	Addr      string        `json:"addr"`
	State     string        `json:"state"`
	Inbound   bool          `json:"inbound"`
	RTT       time.Duration `json:"rtt"`
	Height    int32         `json:"height"`
	UserAgent string        `json:"user_agent"`
	Updated   int64         `json:"updated_unix"`
}

//---------------------------------------------------------------------
// External collaborator interfaces (spec §6) — consumed, not implemented,
// by the protocol core. Concrete blockchain/mempool logic lives outside
// this module's scope; these interfaces are the seam.
//---------------------------------------------------------------------

// BlockReader is the read side of the blockchain hook: enough surface for
// the block-relay/replication path to serve and ingest blocks without this
// package knowing anything about consensus or validation.
type BlockReader interface {
	LastHeight() uint64
	GetBlock(height uint64) (*Block, error)
	HasBlock(hash Hash) bool
	BlockByHash(hash Hash) (*Block, error)
	DecodeBlockRLP(data []byte) (*Block, error)
	ImportBlock(b *Block) error
}

// PeerManager is the seam replication/relay code programs against instead of
// reaching into Node directly, matching the teacher's separation between
// PeerManagement and Node.
type PeerManager interface {
	Peers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	Sample(n int) []string
	SendAsync(peerID, command string, payload []byte) error
	Subscribe(command string) <-chan InboundMsg
	Unsubscribe(command string)
}

//---------------------------------------------------------------------
// Minimal opaque block/tx stand-ins.
//
// The blockchain data model is explicitly out of scope (spec §1): these
// types exist only so the wire codec and relay path have something concrete
// to (de)serialize and hash. A real node would substitute its own richer
// types here; the protocol core only ever treats them as opaque payload +
// hash.
//---------------------------------------------------------------------

type BlockHeader struct {
	Version    int32
	PrevBlock  Hash
	MerkleRoot Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// EncodeRLP returns the canonical RLP-encoding of the header, used as the
// pre-image for Hash(). Kept as RLP (rather than the wire codec) because
// header hashing is an internal/storage concern, not an on-the-wire framing
// concern — same separation the teacher's replication.go makes.
func (h *BlockHeader) EncodeRLP() []byte {
	enc, _ := rlpEncodeHeader(h)
	return enc
}

// Hash returns the double-SHA256 of the RLP-encoded header.
func (h *BlockHeader) Hash() Hash {
	return chainhash.Hash(chainhash.DoubleHashH(h.EncodeRLP()))
}

type Block struct {
	Header       BlockHeader
	Transactions [][]byte // opaque, serialized transactions
}

func (b *Block) Hash() Hash { return b.Header.Hash() }

// EncodeRLP returns the canonical RLP-encoding of the full block.
func (b *Block) EncodeRLP() []byte {
	enc, _ := rlpEncodeBlock(b)
	return enc
}

type Transaction struct {
	Raw []byte
}

func (tx *Transaction) Hash() Hash {
	return chainhash.Hash(chainhash.DoubleHashH(tx.Raw))
}

//---------------------------------------------------------------------
// Replication / relay configuration (node-level)
//---------------------------------------------------------------------

type ReplicationConfig struct {
	Fanout         uint          // sqrt(N) gossip fan-out
	RequestTimeout time.Duration // per-block fetch timeout
	SyncBatchSize  uint64        // blocks per sync request
}

type LedgerConfig struct {
	GenesisBlock *Block
}

//---------------------------------------------------------------------
// Replicator runtime state (see replication.go)
//---------------------------------------------------------------------

type Replicator struct {
	logger  *logrus.Logger
	cfg     *ReplicationConfig
	ledger  BlockReader
	pm      PeerManager
	closing chan struct{}
	wg      sync.WaitGroup
	rangeCh chan []*Block
}
