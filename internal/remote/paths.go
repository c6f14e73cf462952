package remote

// Path helpers for the wire layout. Every path the engine touches is built
// here; nothing concatenates segments ad hoc.

// HabitsCollection is users/{userId}/habits.
func HabitsCollection(userID string) string {
	return "users/" + userID + "/habits"
}

// HabitPath is users/{userId}/habits/{habitId}.
func HabitPath(userID, habitID string) string {
	return HabitsCollection(userID) + "/" + habitID
}

// CompletionsRoot is users/{userId}/completions, the parent of the monthly
// sub-collections.
func CompletionsRoot(userID string) string {
	return "users/" + userID + "/completions"
}

// CompletionsCollection is users/{userId}/completions/{yyyy-MM}/completions.
func CompletionsCollection(userID, monthKey string) string {
	return CompletionsRoot(userID) + "/" + monthKey + "/completions"
}

// CompletionPath addresses one completion document by its deterministic id.
func CompletionPath(userID, monthKey, docID string) string {
	return CompletionsCollection(userID, monthKey) + "/" + docID
}

// EventsRoot is users/{userId}/events.
func EventsRoot(userID string) string {
	return "users/" + userID + "/events"
}

// EventsCollection is users/{userId}/events/{yyyy-MM}/events.
func EventsCollection(userID, monthKey string) string {
	return EventsRoot(userID) + "/" + monthKey + "/events"
}

// EventPath addresses one event document by its operation id.
func EventPath(userID, monthKey, operationID string) string {
	return EventsCollection(userID, monthKey) + "/" + operationID
}

// AwardsCollection is users/{userId}/daily_awards.
func AwardsCollection(userID string) string {
	return "users/" + userID + "/daily_awards"
}

// AwardPath addresses one award document by its deterministic id
// (userId#dateKey).
func AwardPath(userID, awardID string) string {
	return AwardsCollection(userID) + "/" + awardID
}

// XPStatePath is users/{userId}/xp/state, the single merge-updated XP
// snapshot document.
func XPStatePath(userID string) string {
	return "users/" + userID + "/xp/state"
}

// XPLedgerCollection is users/{userId}/xp_ledger, the append-only grant log.
func XPLedgerCollection(userID string) string {
	return "users/" + userID + "/xp_ledger"
}

// XPLedgerPath addresses one ledger entry.
func XPLedgerPath(userID, entryID string) string {
	return XPLedgerCollection(userID) + "/" + entryID
}
