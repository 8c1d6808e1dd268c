package profile

import (
	"fmt"
	"strings"
)

// ConnectionPolicy is the persisted per-device, per-profile preference.
type ConnectionPolicy int

const (
	PolicyUnknown   ConnectionPolicy = -1
	PolicyForbidden ConnectionPolicy = 0
	PolicyAllowed   ConnectionPolicy = 100
)

func (p ConnectionPolicy) String() string {
	switch p {
	case PolicyUnknown:
		return "unknown"
	case PolicyForbidden:
		return "forbidden"
	case PolicyAllowed:
		return "allowed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses the String form of a policy.
func ParsePolicy(s string) (ConnectionPolicy, error) {
	switch strings.ToLower(s) {
	case "unknown":
		return PolicyUnknown, nil
	case "forbidden":
		return PolicyForbidden, nil
	case "allowed":
		return PolicyAllowed, nil
	}
	return PolicyUnknown, fmt.Errorf("invalid connection policy %q", s)
}

// BondState mirrors the adapter's bond state for a device.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return "unknown"
	}
}

// ProfileID identifies a Bluetooth profile.
type ProfileID int

const (
	ProfileHeadset ProfileID = iota + 1
	ProfileA2DP
	ProfilePAN
	ProfileMAP
	ProfilePBAP
	ProfileCSIP
	ProfileVCP
	ProfileLEAudio
	ProfileDistanceMeasurement
)

var profileNames = map[ProfileID]string{
	ProfileHeadset:             "hfp",
	ProfileA2DP:                "a2dp",
	ProfilePAN:                 "pan",
	ProfileMAP:                 "map",
	ProfilePBAP:                "pbap",
	ProfileCSIP:                "csip",
	ProfileVCP:                 "vcp",
	ProfileLEAudio:             "le_audio",
	ProfileDistanceMeasurement: "distance_measurement",
}

func (p ProfileID) String() string {
	if n, ok := profileNames[p]; ok {
		return n
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

// ParseProfileID parses the String form of a profile id.
func ParseProfileID(s string) (ProfileID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, n := range profileNames {
		if n == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown profile %q", s)
}
