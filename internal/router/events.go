package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SubscriptionStartedEvent is a decoded SubscriptionStarted log.
type SubscriptionStartedEvent struct {
	SubscriptionHash     [32]byte
	ProductHash          [32]byte
	User                 common.Address
	Start                *big.Int
	SubscriptionMetadata []byte
}

// PaymentMadeEvent is a decoded PaymentMade log.
type PaymentMadeEvent struct {
	SubscriptionHash [32]byte
	PaymentNumber    *big.Int
}

// SubscriptionTerminatedEvent is a decoded SubscriptionTerminated log.
type SubscriptionTerminatedEvent struct {
	SubscriptionHash [32]byte
}

// InitiatorChangedEvent is a decoded InitiatorChanged log.
type InitiatorChangedEvent struct {
	Merchant     common.Address
	NewInitiator common.Address
}

func checkTopic(log types.Log, want common.Hash, name string) error {
	if len(log.Topics) == 0 || log.Topics[0] != want {
		return fmt.Errorf("log is not a %s event", name)
	}
	return nil
}

// ParseSubscriptionStarted decodes a SubscriptionStarted log.
func ParseSubscriptionStarted(log types.Log) (*SubscriptionStartedEvent, error) {
	if err := checkTopic(log, SubscriptionStartedTopic, "SubscriptionStarted"); err != nil {
		return nil, err
	}
	var ev SubscriptionStartedEvent
	if err := routerABI.UnpackIntoInterface(&ev, "SubscriptionStarted", log.Data); err != nil {
		return nil, fmt.Errorf("unpacking SubscriptionStarted log: %w", err)
	}
	return &ev, nil
}

// ParsePaymentMade decodes a PaymentMade log.
func ParsePaymentMade(log types.Log) (*PaymentMadeEvent, error) {
	if err := checkTopic(log, PaymentMadeTopic, "PaymentMade"); err != nil {
		return nil, err
	}
	var ev PaymentMadeEvent
	if err := routerABI.UnpackIntoInterface(&ev, "PaymentMade", log.Data); err != nil {
		return nil, fmt.Errorf("unpacking PaymentMade log: %w", err)
	}
	return &ev, nil
}

// ParseSubscriptionTerminated decodes a SubscriptionTerminated log.
func ParseSubscriptionTerminated(log types.Log) (*SubscriptionTerminatedEvent, error) {
	if err := checkTopic(log, SubscriptionTerminatedTopic, "SubscriptionTerminated"); err != nil {
		return nil, err
	}
	var ev SubscriptionTerminatedEvent
	if err := routerABI.UnpackIntoInterface(&ev, "SubscriptionTerminated", log.Data); err != nil {
		return nil, fmt.Errorf("unpacking SubscriptionTerminated log: %w", err)
	}
	return &ev, nil
}

// ParseInitiatorChanged decodes an InitiatorChanged log.
func ParseInitiatorChanged(log types.Log) (*InitiatorChangedEvent, error) {
	if err := checkTopic(log, InitiatorChangedTopic, "InitiatorChanged"); err != nil {
		return nil, err
	}
	var ev InitiatorChangedEvent
	if err := routerABI.UnpackIntoInterface(&ev, "InitiatorChanged", log.Data); err != nil {
		return nil, fmt.Errorf("unpacking InitiatorChanged log: %w", err)
	}
	return &ev, nil
}

// PackEventData encodes the non-indexed arguments of the named event. Only
// used by tests to fabricate logs.
func PackEventData(name string, args ...interface{}) ([]byte, error) {
	event, ok := routerABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", name)
	}
	return event.Inputs.Pack(args...)
}

// PackViewResult encodes the return values of the named router view. Only
// used by tests to fabricate eth_call results.
func PackViewResult(method string, args ...interface{}) ([]byte, error) {
	m, ok := routerABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", method)
	}
	return m.Outputs.Pack(args...)
}

// PackERC20Result encodes the return values of the named ERC-20 view. Only
// used by tests to fabricate eth_call results.
func PackERC20Result(method string, args ...interface{}) ([]byte, error) {
	m, ok := erc20ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", method)
	}
	return m.Outputs.Pack(args...)
}

// MethodID returns the 4-byte selector of a router method.
func MethodID(method string) []byte {
	return routerABI.Methods[method].ID
}

// ERC20MethodID returns the 4-byte selector of an ERC-20 method.
func ERC20MethodID(method string) []byte {
	return erc20ABI.Methods[method].ID
}
