package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"evidora.org/internal/evidence"
	"evidora.org/internal/identity"
	"evidora.org/internal/ids"
	"evidora.org/internal/ledger"
)

func (s *Store) CreateDocument(ctx context.Context, actor identity.Identity, name, docType, expiry, notes string) (evidence.Document, evidence.Version, error) {
	name = strings.TrimSpace(name)
	docType = strings.TrimSpace(docType)
	if name == "" || docType == "" {
		return evidence.Document{}, evidence.Version{}, fmt.Errorf("%w: name and docType are required", evidence.ErrInvalidInput)
	}
	if actor.OrganizationID == "" {
		return evidence.Document{}, evidence.Version{}, fmt.Errorf("%w: actor has no organization", evidence.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evidence.Document{}, evidence.Version{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	doc := evidence.Document{
		ID:         ids.NewWithPrefix(ids.PrefixEvidence),
		OwnerOrgID: actor.OrganizationID,
		Name:       name,
		DocType:    docType,
		CreatedAt:  now,
	}
	ver := evidence.Version{
		ID:         ids.NewWithPrefix(ids.PrefixVersion),
		EvidenceID: doc.ID,
		Number:     1,
		Expiry:     expiry,
		Notes:      notes,
		CreatedAt:  now,
	}

	if _, err := tx.ExecContext(ctx, `
		insert into evidence(id, owner_org_id, name, doc_type, created_at)
		values ($1,$2,$3,$4,$5)
	`, doc.ID, doc.OwnerOrgID, doc.Name, doc.DocType, doc.CreatedAt); err != nil {
		return evidence.Document{}, evidence.Version{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into evidence_versions(id, evidence_id, version_number, expiry, notes, created_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),$6)
	`, ver.ID, ver.EvidenceID, ver.Number, ver.Expiry, ver.Notes, ver.CreatedAt); err != nil {
		return evidence.Document{}, evidence.Version{}, err
	}
	if _, err := appendAudit(ctx, tx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionCreateEvidence,
		ObjectType:  ledger.ObjectEvidence,
		ObjectID:    doc.ID,
		Metadata: map[string]string{
			"factoryId": actor.OrganizationID,
			"name":      name,
			"docType":   docType,
			"versionId": ver.ID,
		},
	}); err != nil {
		return evidence.Document{}, evidence.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return evidence.Document{}, evidence.Version{}, err
	}
	return doc, ver, nil
}

func (s *Store) AddVersion(ctx context.Context, actor identity.Identity, documentID, notes, expiry string) (evidence.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evidence.Version{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the document row so concurrent appends number sequentially.
	var ownerOrgID string
	err = tx.QueryRowContext(ctx, `
		select owner_org_id from evidence where id=$1 for update
	`, documentID).Scan(&ownerOrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return evidence.Version{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.Version{}, err
	}
	if ownerOrgID != actor.OrganizationID {
		return evidence.Version{}, evidence.ErrNotOwner
	}

	var nextNumber int
	if err := tx.QueryRowContext(ctx, `
		select coalesce(max(version_number),0)+1 from evidence_versions where evidence_id=$1
	`, documentID).Scan(&nextNumber); err != nil {
		return evidence.Version{}, err
	}

	ver := evidence.Version{
		ID:         ids.NewWithPrefix(ids.PrefixVersion),
		EvidenceID: documentID,
		Number:     nextNumber,
		Expiry:     expiry,
		Notes:      notes,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into evidence_versions(id, evidence_id, version_number, expiry, notes, created_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),$6)
	`, ver.ID, ver.EvidenceID, ver.Number, ver.Expiry, ver.Notes, ver.CreatedAt); err != nil {
		return evidence.Version{}, err
	}
	if _, err := appendAudit(ctx, tx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionAddVersion,
		ObjectType:  ledger.ObjectVersion,
		ObjectID:    ver.ID,
		Metadata: map[string]string{
			"factoryId":     actor.OrganizationID,
			"evidenceId":    documentID,
			"versionNumber": strconv.Itoa(ver.Number),
		},
	}); err != nil {
		return evidence.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return evidence.Version{}, err
	}
	return ver, nil
}

func (s *Store) ResolveVersion(ctx context.Context, documentID, versionID string) (evidence.Version, error) {
	var (
		ver    evidence.Version
		expiry sql.NullString
		notes  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, evidence_id, version_number, expiry, notes, created_at
		from evidence_versions where id=$1 and evidence_id=$2
	`, versionID, documentID).Scan(&ver.ID, &ver.EvidenceID, &ver.Number, &expiry, &notes, &ver.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return evidence.Version{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.Version{}, err
	}
	ver.Expiry = expiry.String
	ver.Notes = notes.String
	return ver, nil
}

func (s *Store) Document(ctx context.Context, documentID string) (evidence.Document, error) {
	var doc evidence.Document
	err := s.db.QueryRowContext(ctx, `
		select id, owner_org_id, name, doc_type, created_at from evidence where id=$1
	`, documentID).Scan(&doc.ID, &doc.OwnerOrgID, &doc.Name, &doc.DocType, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return evidence.Document{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.Document{}, err
	}
	return doc, nil
}
