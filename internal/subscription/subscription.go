// Package subscription lets a person register to be notified about new
// scans of a named package. It is a read/write side channel on top of the
// catalogue: it does not participate in the scan lifecycle, only in naming
// who should hear about it.
package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/models"
)

// Service manages people and their package subscriptions.
type Service struct {
	db      database.DB
	catalog *catalogue.Store
}

// New returns a Service. catalog is used to validate that a package name
// being subscribed to is actually known.
func New(db database.DB, catalog *catalogue.Store) *Service {
	return &Service{db: db, catalog: catalog}
}

// PersonView is a person and the package names they are subscribed to.
type PersonView struct {
	Person       models.Person
	PackageNames []string
}

// Subscribe finds or creates a Person identified by discordID or
// emailAddress (at least one must be non-empty; discordID is used for the
// lookup when both are given) and attaches packageName to
// their subscriptions. Fails with apperr.NotFound if packageName has never
// been scanned, apperr.Invalid if neither identifier is given.
func (s *Service) Subscribe(ctx context.Context, discordID, emailAddress, packageName string) (*PersonView, error) {
	if discordID == "" && emailAddress == "" {
		return nil, apperr.NewInvalid("one of discord_id or email_address is required")
	}

	scans, err := s.catalog.FindScans(ctx, packageName, "", nil)
	if err != nil {
		return nil, fmt.Errorf("looking up package %s: %w", packageName, err)
	}
	if len(scans) == 0 {
		return nil, apperr.NewNotFound(fmt.Sprintf("package %s not found", packageName))
	}

	person, err := s.findOrCreatePerson(ctx, discordID, emailAddress)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{PersonID: person.ID, PackageName: packageName}
	if err := s.db.Insert(ctx, "subscriptions", sub); err != nil && !isDuplicateSubscription(err) {
		return nil, fmt.Errorf("attaching subscription to %s: %w", packageName, err)
	}

	return s.GetPerson(ctx, person.ID)
}

// GetPerson returns personID's record and the package names they subscribe
// to. Fails with apperr.NotFound if personID is unknown.
func (s *Service) GetPerson(ctx context.Context, personID string) (*PersonView, error) {
	var person models.Person
	if err := s.db.Get(ctx, &person, `SELECT id, discord_id, email_address FROM people WHERE id = ?`, personID); err != nil {
		return nil, apperr.NewNotFound(fmt.Sprintf("person %s not found", personID))
	}

	var subs []models.Subscription
	if err := s.db.Select(ctx, &subs, `SELECT person_id, package_name FROM subscriptions WHERE person_id = ?`, personID); err != nil {
		return nil, fmt.Errorf("loading subscriptions for %s: %w", personID, err)
	}

	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.PackageName)
	}
	return &PersonView{Person: person, PackageNames: names}, nil
}

func (s *Service) findOrCreatePerson(ctx context.Context, discordID, emailAddress string) (*models.Person, error) {
	var existing models.Person
	var err error
	switch {
	case discordID != "":
		err = s.db.Get(ctx, &existing, `SELECT id, discord_id, email_address FROM people WHERE discord_id = ?`, discordID)
	default:
		err = s.db.Get(ctx, &existing, `SELECT id, discord_id, email_address FROM people WHERE email_address = ?`, emailAddress)
	}
	if err == nil {
		return &existing, nil
	}

	person := &models.Person{ID: uuid.New().String()}
	if discordID != "" {
		person.DiscordID = &discordID
	}
	if emailAddress != "" {
		person.EmailAddress = &emailAddress
	}
	if err := s.db.Insert(ctx, "people", person); err != nil {
		return nil, fmt.Errorf("creating person: %w", err)
	}
	return person, nil
}

// isDuplicateSubscription does a driver-agnostic substring check, mirroring
// catalogue.isUniqueViolation, since subscribing twice to the same package
// is a harmless no-op rather than a failure.
func isDuplicateSubscription(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
