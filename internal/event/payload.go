package event

import (
	"encoding/json"
	"fmt"
)

// UnmarshalPayload decodes a stored envelope payload back into the typed
// event it was marshaled from. eventType must match EventType.String() of
// the original event; the operation log stores it alongside the payload.
func UnmarshalPayload(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch eventType {
	case "DepositCollateral":
		evt = &DepositCollateral{}
	case "MintSynth":
		evt = &MintSynth{}
	case "DepositAndMint":
		evt = &DepositAndMint{}
	case "BurnSynth":
		evt = &BurnSynth{}
	case "RedeemCollateral":
		evt = &RedeemCollateral{}
	case "RedeemForSynth":
		evt = &RedeemForSynth{}
	case "Liquidate":
		evt = &Liquidate{}
	case "PriceUpdate":
		evt = &PriceUpdate{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}
	return evt, nil
}
