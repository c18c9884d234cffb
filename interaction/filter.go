package interaction

import "github.com/vultisig/vultisig-gather/model"

// Filter decides whether an interaction reaches a subscriber.
type Filter func(i model.Interaction) bool

func OfKind(kinds ...model.ContentKind) Filter {
	return func(i model.Interaction) bool {
		for _, k := range kinds {
			if i.Content.Kind() == k {
				return true
			}
		}
		return false
	}
}

// AddressedTo matches interactions on addr. A nil addr matches everything.
func AddressedTo(addr *model.Address) Filter {
	return func(i model.Interaction) bool {
		return addr == nil || addr.Same(i.Address)
	}
}

func From(participants ...model.ParticipantID) Filter {
	set := make(map[model.ParticipantID]struct{}, len(participants))
	for _, p := range participants {
		set[p] = struct{}{}
	}
	return func(i model.Interaction) bool {
		_, ok := set[i.Participant]
		return ok
	}
}
