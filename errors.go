package cobblekv

// errors.go implements the error output protocol.

// saveError stores the message of err in *errptr, replacing any previous
// message. Nil errors and nil pointers leave it alone.
func saveError(errptr *string, err error) bool {
	if err == nil {
		return false
	}
	if errptr != nil {
		*errptr = err.Error()
	}
	return true
}

// Free clears a message stored by a failed call.
func Free(errptr *string) {
	if errptr != nil {
		*errptr = ""
	}
}
