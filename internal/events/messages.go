// Package events defines the typed messages exchanged with realtime clients.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/brokersync/internal/domain"
)

// Channel is a named broadcast topic a client can subscribe to
type Channel string

const (
	ChannelSignals    Channel = "signals"
	ChannelPositions  Channel = "positions"
	ChannelAccount    Channel = "account"
	ChannelMarket     Channel = "market"
	ChannelSystem     Channel = "system"
	ChannelPortfolios Channel = "portfolios"
)

// Channels lists every known channel
var Channels = []Channel{ChannelSignals, ChannelPositions, ChannelAccount, ChannelMarket, ChannelSystem, ChannelPortfolios}

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, bool) {
	for _, c := range Channels {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// MessageType discriminates outbound messages
type MessageType string

const (
	TypeConnection  MessageType = "connection"
	TypeInitialData MessageType = "initial_data"
	TypePong        MessageType = "pong"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeError       MessageType = "error"

	TypeSignalsUpdate    MessageType = "signals_update"
	TypePositionsUpdate  MessageType = "positions_update"
	TypeAccountUpdate    MessageType = "account_update"
	TypeMarketUpdate     MessageType = "market_update"
	TypeSystemUpdate     MessageType = "system_update"
	TypePortfoliosUpdate MessageType = "portfolios_update"
	TypeSyncResult       MessageType = "sync_result"
	TypeRiskAlert        MessageType = "risk_alert"
	TypeConnectionStatus MessageType = "connection_status"
)

// UpdateType returns the "<channel>_update" message type of a channel
func UpdateType(c Channel) MessageType {
	return MessageType(string(c) + "_update")
}

// Payload is implemented by every outbound data type.
// MessageType ties a payload to the message kind it travels in.
type Payload interface {
	MessageType() MessageType
}

// Message is an outbound broadcast message
type Message struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	Channel   Channel     `json:"channel,omitempty"`
	Data      Payload     `json:"data,omitempty"`
}

// NewMessage builds a message for a payload, stamping the current time
func NewMessage(channel Channel, data Payload) Message {
	return Message{
		Timestamp: time.Now().UTC(),
		Type:      data.MessageType(),
		Channel:   channel,
		Data:      data,
	}
}

// Control builds a data-less message such as pong or heartbeat
func Control(t MessageType) Message {
	return Message{Timestamp: time.Now().UTC(), Type: t}
}

// Encode serializes a message to a JSON text frame
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return b, nil
}

// ConnectionData acknowledges a new client connection
type ConnectionData struct {
	ServerTime time.Time `json:"serverTime"`
	ClientID   string    `json:"clientId"`
	Status     string    `json:"status"`
}

func (d *ConnectionData) MessageType() MessageType { return TypeConnection }

// InitialData carries a channel snapshot sent right after subscribing
type InitialData struct {
	Channel Channel     `json:"channel"`
	Data    interface{} `json:"data"`
}

func (d *InitialData) MessageType() MessageType { return TypeInitialData }

// ErrorData reports a rejected inbound message
type ErrorData struct {
	Message string `json:"message"`
}

func (d *ErrorData) MessageType() MessageType { return TypeError }

// PositionsData is the payload of positions_update
type PositionsData struct {
	PortfolioID string            `json:"portfolioId"`
	Positions   []domain.Position `json:"positions"`
}

func (d *PositionsData) MessageType() MessageType { return TypePositionsUpdate }

// AccountData is the payload of account_update
type AccountData struct {
	Account domain.AccountView `json:"account"`
}

func (d *AccountData) MessageType() MessageType { return TypeAccountUpdate }

// PortfolioData is the payload of portfolios_update
type PortfolioData struct {
	Portfolio domain.Portfolio `json:"portfolio"`
	Deleted   bool             `json:"deleted,omitempty"`
}

func (d *PortfolioData) MessageType() MessageType { return TypePortfoliosUpdate }

// MarketData is the payload of market_update
type MarketData struct {
	Quotes []domain.Quote `json:"quotes"`
}

func (d *MarketData) MessageType() MessageType { return TypeMarketUpdate }

// SignalData is the payload of signals_update
type SignalData struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Strategy   string  `json:"strategy,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price,omitempty"`
}

func (d *SignalData) MessageType() MessageType { return TypeSignalsUpdate }

// SystemStatusData is the payload of system_update
type SystemStatusData struct {
	Gateway       domain.ConnectionState `json:"gateway"`
	CPUPercent    float64                `json:"cpuPercent"`
	MemoryPercent float64                `json:"memoryPercent"`
	Clients       int                    `json:"clients"`
	UptimeSeconds int64                  `json:"uptimeSeconds"`
}

func (d *SystemStatusData) MessageType() MessageType { return TypeSystemUpdate }

// SyncResultData is the payload of sync_result
type SyncResultData struct {
	Result domain.SyncResult `json:"result"`
}

func (d *SyncResultData) MessageType() MessageType { return TypeSyncResult }

// RiskAlertData is the payload of risk_alert
type RiskAlertData struct {
	Alerts []domain.RiskAlert `json:"alerts"`
}

func (d *RiskAlertData) MessageType() MessageType { return TypeRiskAlert }

// ConnectionStatusData is the payload of connection_status
type ConnectionStatusData struct {
	Gateway domain.ConnectionState `json:"gateway"`
}

func (d *ConnectionStatusData) MessageType() MessageType { return TypeConnectionStatus }
