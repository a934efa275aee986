package models

// Person is a subscriber, identified by whichever contact channel they
// registered with. At least one of DiscordID or EmailAddress is set.
type Person struct {
	ID           string  `json:"id"            db:"id"`
	DiscordID    *string `json:"discord_id"    db:"discord_id"`
	EmailAddress *string `json:"email_address" db:"email_address"`
}

// Subscription attaches a Person to a package name; they are notified about
// new scans of that package. The pair is unique.
type Subscription struct {
	PersonID    string `json:"person_id"    db:"person_id"`
	PackageName string `json:"package_name" db:"package_name"`
}

// SuppressedPackage marks a scan (and transitively its package name) as
// suppressed from reporting and default listing.
type SuppressedPackage struct {
	ScanID string `json:"scan_id" db:"scan_id"`
}
