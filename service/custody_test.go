package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/encryption"
	"github.com/custos-vault/custos/models"
	"github.com/custos-vault/custos/service"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// utPrepareCustody build a custody controller against a unique temporary DB
func utPrepareCustody(
	t *testing.T, utCtx context.Context,
) (db.Client, service.CredentialCustody) {
	assert := assert.New(t)

	testDB := fmt.Sprintf("/tmp/custos_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	dbClient, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(dbClient.RunSQLInTransaction(utCtx, db.DefineTables))

	keyHex := fmt.Sprintf("%x", []byte(uuid.NewString())[:32])
	cipher, err := encryption.NewCipher(utCtx, encryption.CipherParams{KeyHex: keyHex})
	assert.Nil(err)

	uut, err := service.NewCredentialCustody(utCtx, dbClient, cipher)
	assert.Nil(err)

	return dbClient, uut
}

// utNewPrincipal create a principal to act as
func utNewPrincipal(
	t *testing.T,
	utCtx context.Context,
	dbClient db.Client,
	name string,
	role models.PrincipalRoleENUMType,
) models.Principal {
	assert := assert.New(t)

	var principal models.Principal
	err := dbClient.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			entry, err := dbClient.DefineNewPrincipal(
				ctx, name, uuid.NewString()+"@example.com", role,
			)
			if err != nil {
				return err
			}
			principal = entry
			return nil
		},
	)
	assert.Nil(err)

	return principal
}

// TestCustodyCredentialLifecycle walks one credential through its full life:
//
//  1. The owner stores a new credential.
//  2. Revealing it returns the original secret.
//  3. Two rotations replace the secret; the history holds the superseded
//     secrets, newest first.
//  4. Revocation makes reveal and rotate fail with a typed revoked error.
//  5. History remains readable after revocation.
//  6. The audit trail recorded every step.
func TestCustodyCredentialLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)
	admin := utNewPrincipal(t, utCtx, dbClient, "ut-admin", models.PrincipalRoleAdmin)

	secret1 := "sk_live_" + uuid.NewString()
	secret2 := "sk_live_" + uuid.NewString()
	secret3 := "sk_live_" + uuid.NewString()

	// 1. Store a new credential
	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "payments key",
		Service: "stripe",
		Secret:  secret1,
	}, nil)
	assert.Nil(err)
	assert.Equal(owner.ID, credential.OwnerID)
	assert.Equal(models.CredentialStateActive, credential.State)

	// 2. Reveal returns the original secret
	revealed, err := uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(secret1, revealed)

	// 3. Rotate twice
	updated, err := uut.RotateCredential(utCtx, owner, credential.ID, secret2, nil, nil)
	assert.Nil(err)
	assert.Equal(models.CredentialStateActive, updated.State)
	time.Sleep(50 * time.Millisecond)
	_, err = uut.RotateCredential(utCtx, owner, credential.ID, secret3, nil, nil)
	assert.Nil(err)

	revealed, err = uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(secret3, revealed)

	// The ledger holds the superseded secrets, newest rotation first
	history, err := uut.GetRotationHistory(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(credential.ID, history.CredentialID)
	assert.Len(history.Rotations, 2)
	assert.Equal(secret2, history.Rotations[0].Secret)
	assert.Equal(secret1, history.Rotations[1].Secret)

	// 4. Revoke, then reveal and rotate must fail typed
	revoked, err := uut.RevokeCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.True(revoked.Revoked)
	assert.Equal(models.CredentialStateRevoked, revoked.State)

	_, err = uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Error(err)
	var revokedErr models.KeyRevokedError
	assert.True(errors.As(err, &revokedErr))
	assert.Equal(credential.ID, revokedErr.CredentialID)

	_, err = uut.RotateCredential(utCtx, owner, credential.ID, uuid.NewString(), nil, nil)
	assert.Error(err)
	assert.True(errors.As(err, &revokedErr))

	// 5. History stays readable after revocation
	history, err = uut.GetRotationHistory(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Len(history.Rotations, 2)

	// 6. The audit trail recorded every step, newest first
	events, err := uut.ListAuditEvents(utCtx, admin, nil, nil)
	assert.Nil(err)
	observedActions := []models.AuditActionENUMType{}
	for _, event := range events {
		assert.Equal(owner.ID, event.ActorID)
		observedActions = append(observedActions, event.Action)
	}
	assert.Equal([]models.AuditActionENUMType{
		models.AuditActionRevokeKey,
		models.AuditActionViewKey,
		models.AuditActionRotateKey,
		models.AuditActionRotateKey,
		models.AuditActionViewKey,
		models.AuditActionCreateKey,
	}, observedActions)
}

// TestCustodyExpiredCredential verifies expiry handling:
//
//  1. A credential stored with a passed expiry is inactive.
//  2. Reveal fails with a typed expired error.
//  3. Rotation without a fresh expiry is refused.
//  4. Rotation carrying a future expiry returns the credential to active.
func TestCustodyExpiredCredential(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)

	past := time.Now().Add(-time.Hour)
	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:      "stale deploy key",
		Service:   "github",
		Secret:    uuid.NewString(),
		ExpiresAt: &past,
	}, nil)
	assert.Nil(err)
	assert.Equal(models.CredentialStateExpired, credential.State)

	// 2. Reveal must fail typed
	_, err = uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Error(err)
	var expiredErr models.KeyExpiredError
	assert.True(errors.As(err, &expiredErr))
	assert.Equal(credential.ID, expiredErr.CredentialID)

	// 3. Rotation keeping the passed expiry is refused
	_, err = uut.RotateCredential(utCtx, owner, credential.ID, uuid.NewString(), nil, nil)
	assert.Error(err)
	assert.True(errors.As(err, &expiredErr))

	// A rotation whose new expiry is itself already passed is also refused
	stillPast := time.Now().Add(-time.Minute)
	_, err = uut.RotateCredential(utCtx, owner, credential.ID, uuid.NewString(), &stillPast, nil)
	assert.Error(err)
	assert.True(errors.As(err, &expiredErr))

	// 4. A rotation with a future expiry returns the credential to active
	freshSecret := uuid.NewString()
	future := time.Now().Add(time.Hour)
	updated, err := uut.RotateCredential(utCtx, owner, credential.ID, freshSecret, &future, nil)
	assert.Nil(err)
	assert.Equal(models.CredentialStateActive, updated.State)

	revealed, err := uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(freshSecret, revealed)
}

// TestCustodyAuthorizationBoundaries verifies the authorization policy:
//
//  1. A developer who does not own a credential is refused every record
//     operation on it.
//  2. An admin may act on any credential.
//  3. The admin-only surfaces refuse developers, owner or not.
func TestCustodyAuthorizationBoundaries(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)
	outsider := utNewPrincipal(t, utCtx, dbClient, "ut-outsider", models.PrincipalRoleDeveloper)
	admin := utNewPrincipal(t, utCtx, dbClient, "ut-admin", models.PrincipalRoleAdmin)

	secret := uuid.NewString()
	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "metrics key",
		Service: "datadog",
		Secret:  secret,
	}, nil)
	assert.Nil(err)

	// 1. A non-owning developer is refused every record operation
	var forbidden models.ForbiddenError
	_, err = uut.RevealCredential(utCtx, outsider, credential.ID, nil)
	assert.True(errors.As(err, &forbidden))
	assert.Equal(outsider.ID, forbidden.ActorID)
	_, err = uut.RotateCredential(utCtx, outsider, credential.ID, uuid.NewString(), nil, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.RevokeCredential(utCtx, outsider, credential.ID, nil)
	assert.True(errors.As(err, &forbidden))
	err = uut.DeleteCredential(utCtx, outsider, credential.ID, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.GetRotationHistory(utCtx, outsider, credential.ID, nil)
	assert.True(errors.As(err, &forbidden))

	// The refused operations must not have altered the credential
	revealed, err := uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(secret, revealed)

	// 2. An admin may act on any credential
	revealed, err = uut.RevealCredential(utCtx, admin, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(secret, revealed)
	_, err = uut.GetRotationHistory(utCtx, admin, credential.ID, nil)
	assert.Nil(err)

	// 3. Admin-only surfaces refuse developers
	_, err = uut.ListInactiveCredentials(utCtx, owner, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.ListCredentialsByOwner(utCtx, owner, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.ListPrincipals(utCtx, owner, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.ExportCredentials(utCtx, owner, nil)
	assert.True(errors.As(err, &forbidden))
	_, err = uut.ListAuditEvents(utCtx, owner, nil, nil)
	assert.True(errors.As(err, &forbidden))
	ownerFragment := "ut-owner"
	_, err = uut.SearchCredentials(utCtx, owner, service.SearchFilters{
		OwnerMatch: &ownerFragment,
	}, nil)
	assert.True(errors.As(err, &forbidden))
}

// TestCustodySearchAndListing verifies the listing and search surfaces:
//
//  1. Developers list only their own active credentials; admins list all.
//  2. Name and service fragments filter case-insensitively.
//  3. The admin owner filter scopes to matching principals, and fails closed
//     when no principal matches.
//  4. Inactive credentials are absent from listings and present in the
//     admin-only inactive view.
//  5. The per-owner grouping covers every principal.
func TestCustodySearchAndListing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	alice := utNewPrincipal(t, utCtx, dbClient, "Alice", models.PrincipalRoleDeveloper)
	bob := utNewPrincipal(t, utCtx, dbClient, "Bob", models.PrincipalRoleDeveloper)
	admin := utNewPrincipal(t, utCtx, dbClient, "Root", models.PrincipalRoleAdmin)

	past := time.Now().Add(-time.Hour)
	type seedEntry struct {
		actor     models.Principal
		name      string
		service   string
		expiresAt *time.Time
		revoke    bool
	}
	seeds := []seedEntry{
		{actor: alice, name: "Payments Key", service: "Stripe"},
		{actor: alice, name: "old deploy key", service: "github", expiresAt: &past},
		{actor: bob, name: "metrics key", service: "datadog"},
		{actor: bob, name: "leaked stripe key", service: "stripe", revoke: true},
	}
	for _, seed := range seeds {
		entry, err := uut.CreateCredential(utCtx, seed.actor, service.CreateCredentialRequest{
			Name:      seed.name,
			Service:   seed.service,
			Secret:    uuid.NewString(),
			ExpiresAt: seed.expiresAt,
		}, nil)
		assert.Nil(err)
		if seed.revoke {
			_, err = uut.RevokeCredential(utCtx, seed.actor, entry.ID, nil)
			assert.Nil(err)
		}
	}

	// 1. Developers see only their own active credentials
	aliceView, err := uut.ListCredentials(utCtx, alice, nil)
	assert.Nil(err)
	assert.Len(aliceView, 1)
	assert.Equal("Payments Key", aliceView[0].Name)

	bobView, err := uut.ListCredentials(utCtx, bob, nil)
	assert.Nil(err)
	assert.Len(bobView, 1)
	assert.Equal("metrics key", bobView[0].Name)

	// Admins see every active credential
	adminView, err := uut.ListCredentials(utCtx, admin, nil)
	assert.Nil(err)
	assert.Len(adminView, 2)

	// 2. Fragments filter case-insensitively, scoped to the searcher
	fragment := "STRIPE"
	matched, err := uut.SearchCredentials(utCtx, admin, service.SearchFilters{
		Service: &fragment,
	}, nil)
	assert.Nil(err)
	assert.Len(matched, 1)
	assert.Equal("Payments Key", matched[0].Name)

	matched, err = uut.SearchCredentials(utCtx, bob, service.SearchFilters{
		Service: &fragment,
	}, nil)
	assert.Nil(err)
	assert.Empty(matched)

	// 3. The owner filter scopes to matching principals
	ownerFragment := "alice"
	matched, err = uut.SearchCredentials(utCtx, admin, service.SearchFilters{
		OwnerMatch: &ownerFragment,
	}, nil)
	assert.Nil(err)
	assert.Len(matched, 1)
	assert.Equal(alice.ID, matched[0].OwnerID)

	// No matching principal fails closed to an empty result set
	ownerFragment = "nobody-here"
	matched, err = uut.SearchCredentials(utCtx, admin, service.SearchFilters{
		OwnerMatch: &ownerFragment,
	}, nil)
	assert.Nil(err)
	assert.Empty(matched)

	// 4. The inactive view holds the expired and revoked entries
	inactive, err := uut.ListInactiveCredentials(utCtx, admin, nil)
	assert.Nil(err)
	assert.Len(inactive, 2)
	inactiveNames := map[string]models.CredentialStateENUMType{}
	for _, entry := range inactive {
		inactiveNames[entry.Name] = entry.State
	}
	assert.Equal(models.CredentialStateExpired, inactiveNames["old deploy key"])
	assert.Equal(models.CredentialStateRevoked, inactiveNames["leaked stripe key"])

	// 5. The per-owner grouping covers every principal, active entries only
	grouped, err := uut.ListCredentialsByOwner(utCtx, admin, nil)
	assert.Nil(err)
	assert.Len(grouped, 3)
	groupedByID := map[string]service.OwnerCredentials{}
	for _, group := range grouped {
		groupedByID[group.Owner.ID] = group
	}
	assert.Len(groupedByID[alice.ID].Credentials, 1)
	assert.Len(groupedByID[bob.ID].Credentials, 1)
	assert.Empty(groupedByID[admin.ID].Credentials)
}

// TestCustodyExport verifies the admin bulk export:
//
//  1. The export decrypts every credential, inactive ones included.
//  2. Rows join the owner's display info.
//  3. The CSV rendering carries the expected header and N/A for missing
//     expiry.
//  4. The export itself lands in the audit trail with a count.
func TestCustodyExport(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)
	admin := utNewPrincipal(t, utCtx, dbClient, "ut-admin", models.PrincipalRoleAdmin)

	future := time.Now().Add(time.Hour).Round(time.Second)
	activeSecret := uuid.NewString()
	revokedSecret := uuid.NewString()

	_, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:      "payments key",
		Service:   "stripe",
		Secret:    activeSecret,
		ExpiresAt: &future,
	}, nil)
	assert.Nil(err)
	revokedEntry, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "leaked key",
		Service: "aws",
		Secret:  revokedSecret,
	}, nil)
	assert.Nil(err)
	_, err = uut.RevokeCredential(utCtx, owner, revokedEntry.ID, nil)
	assert.Nil(err)

	// 1. The export decrypts everything, inactive ones included
	rows, err := uut.ExportCredentials(utCtx, admin, nil)
	assert.Nil(err)
	assert.Len(rows, 2)
	rowsByName := map[string]service.ExportRow{}
	for _, row := range rows {
		rowsByName[row.Name] = row
	}
	assert.Equal(activeSecret, rowsByName["payments key"].Secret)
	assert.Equal(revokedSecret, rowsByName["leaked key"].Secret)
	assert.True(rowsByName["leaked key"].Revoked)
	assert.Nil(rowsByName["leaked key"].ExpiresAt)

	// 2. Rows join the owner's display info
	assert.Equal(owner.Name, rowsByName["payments key"].Owner)
	assert.Equal(owner.Email, rowsByName["payments key"].Email)

	// 3. CSV rendering
	var rendered bytes.Buffer
	assert.Nil(service.RenderExportCSV(rows, &rendered))
	lines := strings.Split(strings.TrimSpace(rendered.String()), "\n")
	assert.Len(lines, 3)
	assert.Equal("owner,email,name,service,secret,expires_at,revoked", lines[0])
	assert.Contains(rendered.String(), "N/A")
	assert.Contains(rendered.String(), activeSecret)

	// 4. The export landed in the audit trail with a count
	events, err := uut.ListAuditEvents(utCtx, admin, nil, nil)
	assert.Nil(err)
	assert.NotEmpty(events)
	assert.Equal(models.AuditActionExportKeys, events[0].Action)
	assert.Equal(admin.ID, events[0].ActorID)
	checkValidator := validator.New()
	assert.Nil(models.RegisterWithValidator(checkValidator))
	parsed, err := events[0].ParseDetails(checkValidator)
	assert.Nil(err)
	details, ok := parsed.(models.AuditExportDetails)
	assert.True(ok)
	assert.Equal(2, details.Count)
}

// TestCustodyDeleteCredential verifies deletion:
//
//  1. The owner deletes a credential; lookups then fail typed.
//  2. Deleting an unknown credential fails typed.
func TestCustodyDeleteCredential(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)

	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "scratch key",
		Service: "github",
		Secret:  uuid.NewString(),
	}, nil)
	assert.Nil(err)

	// 1. Delete, then reveal must fail typed
	assert.Nil(uut.DeleteCredential(utCtx, owner, credential.ID, nil))
	_, err = uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Error(err)
	var notFound models.NotFoundError
	assert.True(errors.As(err, &notFound))
	assert.Equal(credential.ID, notFound.ID)

	// 2. Deleting an unknown credential fails typed
	err = uut.DeleteCredential(utCtx, owner, uuid.NewString(), nil)
	assert.Error(err)
	assert.True(errors.As(err, &notFound))
}

// TestCustodyAuditSinkFailure verifies that audit writes are best-effort:
//
//  1. With the audit table gone, storing and revealing a credential still
//     succeed; the failed append is only logged.
//  2. The stored credential survives the broken sink intact.
func TestCustodyAuditSinkFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)

	// 1. Break the audit sink
	assert.Nil(dbClient.RunSQLInTransaction(
		utCtx, func(_ context.Context, tx *gorm.DB) error {
			return tx.Migrator().DropTable(&db.AuditEventDBEntry{})
		},
	))

	// The primary operations must still succeed
	secret := uuid.NewString()
	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "payments key",
		Service: "stripe",
		Secret:  secret,
	}, nil)
	assert.Nil(err)

	revealed, err := uut.RevealCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)
	assert.Equal(secret, revealed)

	_, err = uut.RotateCredential(utCtx, owner, credential.ID, uuid.NewString(), nil, nil)
	assert.Nil(err)
	_, err = uut.RevokeCredential(utCtx, owner, credential.ID, nil)
	assert.Nil(err)

	// 2. The stored credential survived the broken sink intact
	assert.Nil(dbClient.UseDatabaseInTransaction(
		utCtx, func(dbCtx context.Context, dbHandle db.Database) error {
			entry, err := dbHandle.GetCredential(dbCtx, credential.ID)
			if err != nil {
				return err
			}
			assert.True(entry.Revoked)
			return nil
		},
	))
}

// TestCustodyCreateValidation verifies request validation on store
func TestCustodyCreateValidation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	dbClient, uut := utPrepareCustody(t, utCtx)
	owner := utNewPrincipal(t, utCtx, dbClient, "ut-owner", models.PrincipalRoleDeveloper)

	var validationErr models.ValidationError
	cases := []service.CreateCredentialRequest{
		{Service: "stripe", Secret: "x"},
		{Name: "payments key", Secret: "x"},
		{Name: "payments key", Service: "stripe"},
	}
	for _, request := range cases {
		_, err := uut.CreateCredential(utCtx, owner, request, nil)
		assert.Error(err)
		assert.True(errors.As(err, &validationErr))
	}

	// An empty replacement secret is refused on rotation as well
	credential, err := uut.CreateCredential(utCtx, owner, service.CreateCredentialRequest{
		Name:    "payments key",
		Service: "stripe",
		Secret:  uuid.NewString(),
	}, nil)
	assert.Nil(err)
	_, err = uut.RotateCredential(utCtx, owner, credential.ID, "", nil, nil)
	assert.Error(err)
	assert.True(errors.As(err, &validationErr))
}
