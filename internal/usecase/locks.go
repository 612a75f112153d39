package usecase

// Advisory lock keys. Writers that touch a user's codes, cache entry or
// sessions take the user key first, then the code key.
func userLockKey(userID string) string { return "user:" + userID }
func codeLockKey(code string) string   { return "code:" + code }
