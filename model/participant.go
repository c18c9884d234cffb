package model

// ParticipantIDs converts raw ids into ParticipantIDs.
func ParticipantIDs(ids ...string) []ParticipantID {
	out := make([]ParticipantID, 0, len(ids))
	for _, id := range ids {
		out = append(out, ParticipantID(id))
	}
	return out
}

// Strings converts ParticipantIDs back into raw ids.
func Strings(ids []ParticipantID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
