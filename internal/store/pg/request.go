package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"evidora.org/internal/identity"
	"evidora.org/internal/ids"
	"evidora.org/internal/ledger"
	"evidora.org/internal/request"
)

func (s *Store) Create(ctx context.Context, actor identity.Identity, factoryOrgID, title string, docTypes []string) (request.Request, error) {
	factoryOrgID = strings.TrimSpace(factoryOrgID)
	title = strings.TrimSpace(title)
	if factoryOrgID == "" || title == "" {
		return request.Request{}, fmt.Errorf("%w: factoryOrgId and title are required", request.ErrInvalidInput)
	}
	if len(docTypes) == 0 {
		return request.Request{}, fmt.Errorf("%w: at least one item is required", request.ErrInvalidInput)
	}
	for _, dt := range docTypes {
		if strings.TrimSpace(dt) == "" {
			return request.Request{}, fmt.Errorf("%w: item docType must not be empty", request.ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return request.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req := request.Request{
		ID:           ids.NewWithPrefix(ids.PrefixRequest),
		BuyerOrgID:   actor.OrganizationID,
		BuyerUserID:  actor.UserID,
		FactoryOrgID: factoryOrgID,
		Title:        title,
		Status:       request.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into requests(id, buyer_org_id, buyer_user_id, factory_org_id, title, status, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, req.ID, req.BuyerOrgID, req.BuyerUserID, req.FactoryOrgID, req.Title, string(req.Status), req.CreatedAt); err != nil {
		return request.Request{}, err
	}
	for _, dt := range docTypes {
		item := request.Item{
			ID:        ids.NewWithPrefix(ids.PrefixItem),
			RequestID: req.ID,
			DocType:   strings.TrimSpace(dt),
			Status:    request.ItemPending,
		}
		if _, err := tx.ExecContext(ctx, `
			insert into request_items(id, request_id, doc_type, status)
			values ($1,$2,$3,$4)
		`, item.ID, item.RequestID, item.DocType, string(item.Status)); err != nil {
			return request.Request{}, err
		}
		req.Items = append(req.Items, item)
	}
	if _, err := appendAudit(ctx, tx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionCreateRequest,
		ObjectType:  ledger.ObjectRequest,
		ObjectID:    req.ID,
		Metadata: map[string]string{
			"buyerId":   actor.UserID,
			"factoryId": factoryOrgID,
			"title":     title,
			"itemCount": strconv.Itoa(len(req.Items)),
			"docTypes":  strings.Join(docTypes, ","),
		},
	}); err != nil {
		return request.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) ListForFactory(ctx context.Context, factoryOrgID string) ([]request.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, buyer_org_id, buyer_user_id, factory_org_id, title, status, created_at
		from requests where factory_org_id=$1
		order by created_at desc, id desc
	`, factoryOrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]request.Request, 0)
	index := make(map[string]int)
	for rows.Next() {
		var req request.Request
		var status string
		if err := rows.Scan(&req.ID, &req.BuyerOrgID, &req.BuyerUserID, &req.FactoryOrgID, &req.Title, &status, &req.CreatedAt); err != nil {
			return nil, err
		}
		req.Status = request.Status(status)
		req.Items = make([]request.Item, 0)
		index[req.ID] = len(res)
		res = append(res, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		select i.id, i.request_id, i.doc_type, i.status, i.evidence_id, i.version_id, i.fulfilled_at
		from request_items i
		join requests r on r.id = i.request_id
		where r.factory_org_id=$1
		order by i.id
	`, factoryOrgID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		if pos, ok := index[item.RequestID]; ok {
			res[pos].Items = append(res[pos].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) Get(ctx context.Context, requestID string) (request.Request, error) {
	return getRequest(ctx, s.db, requestID)
}

func (s *Store) Fulfill(ctx context.Context, actor identity.Identity, requestID, itemID, evidenceID, versionID string) (request.Item, request.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return request.Item{}, request.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the request row so a concurrent fulfillment of the same item
	// serializes behind this transaction.
	var factoryOrgID, buyerUserID, prevStatus string
	err = tx.QueryRowContext(ctx, `
		select factory_org_id, buyer_user_id, status from requests where id=$1 for update
	`, requestID).Scan(&factoryOrgID, &buyerUserID, &prevStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Item{}, request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Item{}, request.Request{}, err
	}
	if factoryOrgID != actor.OrganizationID {
		return request.Item{}, request.Request{}, request.ErrNotOwner
	}

	var itemStatus, docType string
	err = tx.QueryRowContext(ctx, `
		select status, doc_type from request_items where id=$1 and request_id=$2 for update
	`, itemID, requestID).Scan(&itemStatus, &docType)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Item{}, request.Request{}, request.ErrItemNotFound
	}
	if err != nil {
		return request.Item{}, request.Request{}, err
	}
	if request.ItemStatus(itemStatus) != request.ItemPending {
		return request.Item{}, request.Request{}, request.ErrConflict
	}

	var ownerOrgID string
	err = tx.QueryRowContext(ctx, `
		select owner_org_id from evidence where id=$1
	`, evidenceID).Scan(&ownerOrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Item{}, request.Request{}, fmt.Errorf("%w: evidence %s", request.ErrNotFound, evidenceID)
	}
	if err != nil {
		return request.Item{}, request.Request{}, err
	}
	if ownerOrgID != factoryOrgID {
		return request.Item{}, request.Request{}, request.ErrNotOwner
	}
	var versionExists bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from evidence_versions where id=$1 and evidence_id=$2)
	`, versionID, evidenceID).Scan(&versionExists); err != nil {
		return request.Item{}, request.Request{}, err
	}
	if !versionExists {
		return request.Item{}, request.Request{}, fmt.Errorf("%w: version %s", request.ErrNotFound, versionID)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update request_items set status=$1, evidence_id=$2, version_id=$3, fulfilled_at=$4 where id=$5
	`, string(request.ItemFulfilled), evidenceID, versionID, now, itemID); err != nil {
		return request.Item{}, request.Request{}, err
	}

	var pendingLeft int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from request_items where request_id=$1 and status=$2
	`, requestID, string(request.ItemPending)).Scan(&pendingLeft); err != nil {
		return request.Item{}, request.Request{}, err
	}
	newStatus := request.StatusPending
	if pendingLeft == 0 {
		newStatus = request.StatusCompleted
	}
	if string(newStatus) != prevStatus {
		if _, err := tx.ExecContext(ctx, `
			update requests set status=$1 where id=$2
		`, string(newStatus), requestID); err != nil {
			return request.Item{}, request.Request{}, err
		}
	}

	meta := map[string]string{
		"factoryId":      actor.OrganizationID,
		"buyerId":        buyerUserID,
		"requestId":      requestID,
		"docType":        docType,
		"evidenceId":     evidenceID,
		"versionId":      versionID,
		"previousStatus": itemStatus,
		"newStatus":      string(request.ItemFulfilled),
		"requestStatus":  string(newStatus),
	}
	if string(newStatus) != prevStatus {
		meta["requestPreviousStatus"] = prevStatus
		meta["requestNewStatus"] = string(newStatus)
	}
	if _, err := appendAudit(ctx, tx, ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionFulfillItem,
		ObjectType:  ledger.ObjectRequestItem,
		ObjectID:    itemID,
		Metadata:    meta,
	}); err != nil {
		return request.Item{}, request.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return request.Item{}, request.Request{}, err
	}

	item := request.Item{
		ID:          itemID,
		RequestID:   requestID,
		DocType:     docType,
		Status:      request.ItemFulfilled,
		EvidenceID:  evidenceID,
		VersionID:   versionID,
		FulfilledAt: &now,
	}
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return request.Item{}, request.Request{}, err
	}
	return item, req, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (request.Item, error) {
	var (
		item        request.Item
		status      string
		evidenceID  sql.NullString
		versionID   sql.NullString
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.RequestID, &item.DocType, &status, &evidenceID, &versionID, &fulfilledAt); err != nil {
		return request.Item{}, err
	}
	item.Status = request.ItemStatus(status)
	item.EvidenceID = evidenceID.String
	item.VersionID = versionID.String
	if fulfilledAt.Valid {
		ts := fulfilledAt.Time
		item.FulfilledAt = &ts
	}
	return item, nil
}

func getRequest(ctx context.Context, db *sql.DB, requestID string) (request.Request, error) {
	var req request.Request
	var status string
	err := db.QueryRowContext(ctx, `
		select id, buyer_org_id, buyer_user_id, factory_org_id, title, status, created_at
		from requests where id=$1
	`, requestID).Scan(&req.ID, &req.BuyerOrgID, &req.BuyerUserID, &req.FactoryOrgID, &req.Title, &status, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	req.Status = request.Status(status)
	req.Items = make([]request.Item, 0)

	rows, err := db.QueryContext(ctx, `
		select id, request_id, doc_type, status, evidence_id, version_id, fulfilled_at
		from request_items where request_id=$1 order by id
	`, requestID)
	if err != nil {
		return request.Request{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return request.Request{}, err
		}
		req.Items = append(req.Items, item)
	}
	if err := rows.Err(); err != nil {
		return request.Request{}, err
	}
	return req, nil
}
