package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// ledgerTx implements registry.Tx over one SQL transaction.
type ledgerTx struct {
	tx       *sql.Tx
	readOnly bool
}

var _ registry.Tx = (*ledgerTx)(nil)

var errReadOnly = errors.New("storage: write in read-only transaction")

func (l *ledgerTx) writable() error {
	if l.readOnly {
		return errReadOnly
	}
	return nil
}

// Registry returns the singleton registry row.
func (l *ledgerTx) Registry() (*registry.Registry, error) {
	var (
		r                       registry.Registry
		admins                  string
		totalAgents, totalScore int64
		minScore                int64
	)
	err := l.tx.QueryRow(
		`SELECT schema_version, owner, admins, reward_token, vault, total_agents, total_score, min_score_threshold, created_at
		 FROM registry WHERE id = 1`,
	).Scan(&r.SchemaVersion, &r.Owner, &admins, &r.RewardToken, &r.Vault, &totalAgents, &totalScore, &minScore, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}
	if err := json.Unmarshal([]byte(admins), &r.Admins); err != nil {
		return nil, fmt.Errorf("decode admins: %w", err)
	}
	r.TotalAgents = u64(totalAgents)
	r.TotalScore = u64(totalScore)
	r.MinScoreThreshold = u64(minScore)
	return &r, nil
}

// CreateRegistry inserts the singleton row.
func (l *ledgerTx) CreateRegistry(r *registry.Registry) error {
	if err := l.writable(); err != nil {
		return err
	}
	admins, err := json.Marshal(r.Admins)
	if err != nil {
		return fmt.Errorf("encode admins: %w", err)
	}
	res, err := l.tx.Exec(
		`INSERT OR IGNORE INTO registry (id, schema_version, owner, admins, reward_token, vault, total_agents, total_score, min_score_threshold, created_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SchemaVersion, r.Owner, string(admins), r.RewardToken, r.Vault,
		i64(r.TotalAgents), i64(r.TotalScore), i64(r.MinScoreThreshold), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if n == 0 {
		return registry.ErrAlreadyInitialized
	}
	return nil
}

// PutRegistry overwrites the singleton row.
func (l *ledgerTx) PutRegistry(r *registry.Registry) error {
	if err := l.writable(); err != nil {
		return err
	}
	admins, err := json.Marshal(r.Admins)
	if err != nil {
		return fmt.Errorf("encode admins: %w", err)
	}
	res, err := l.tx.Exec(
		`UPDATE registry SET schema_version = ?, owner = ?, admins = ?, reward_token = ?, vault = ?,
		 total_agents = ?, total_score = ?, min_score_threshold = ? WHERE id = 1`,
		r.SchemaVersion, r.Owner, string(admins), r.RewardToken, r.Vault,
		i64(r.TotalAgents), i64(r.TotalScore), i64(r.MinScoreThreshold),
	)
	if err != nil {
		return fmt.Errorf("put registry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put registry: %w", err)
	}
	if n == 0 {
		return registry.ErrNotInitialized
	}
	return nil
}

const identityColumns = `handle, version, schema_version, owner, mint, name, hex_id, score, tier, is_active,
	uri, public_data, last_claim_timestamp, created_at, sns, private_vault, recommendations, reports`

// scanIdentity reads one identities row from a *sql.Row or *sql.Rows.
func scanIdentity(s interface{ Scan(...any) error }) (*registry.Identity, error) {
	var (
		id                   registry.Identity
		hexID                []byte
		score, recs, reports int64
		tier, active         int
		sns                  string
		privateVault         []byte
	)
	err := s.Scan(&id.Handle, &id.Version, &id.SchemaVersion, &id.Owner, &id.Mint, &id.Name, &hexID,
		&score, &tier, &active, &id.URI, &id.PublicData, &id.LastClaimTimestamp, &id.CreatedAt,
		&sns, &privateVault, &recs, &reports)
	if err != nil {
		return nil, err
	}
	if len(hexID) != registry.HexIDSize {
		return nil, fmt.Errorf("identity %s: stored hex id has %d bytes", id.Handle, len(hexID))
	}
	copy(id.HexID[:], hexID)
	id.Score = u64(score)
	id.Tier = uint8(tier)
	id.IsActive = active != 0
	id.Recommendations = u64(recs)
	id.Reports = u64(reports)
	id.SNS = map[string]string{}
	if err := json.Unmarshal([]byte(sns), &id.SNS); err != nil {
		return nil, fmt.Errorf("decode sns: %w", err)
	}
	if len(privateVault) > 0 {
		id.PrivateVault = privateVault
	}
	return &id, nil
}

func (l *ledgerTx) identityRow(query string, args ...any) (*registry.Identity, error) {
	id, err := scanIdentity(l.tx.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

// Identity returns the latest version of the lineage for handle.
func (l *ledgerTx) Identity(handle string) (*registry.Identity, error) {
	return l.identityRow(
		`SELECT `+identityColumns+` FROM identities
		 WHERE handle = ? AND version = (SELECT latest_version FROM handles WHERE handle = ?)`,
		handle, handle,
	)
}

// IdentityVersion returns one version of the lineage for handle.
func (l *ledgerTx) IdentityVersion(handle string, version uint32) (*registry.Identity, error) {
	return l.identityRow(
		`SELECT `+identityColumns+` FROM identities WHERE handle = ? AND version = ?`,
		handle, version,
	)
}

// IdentityByOwner returns the active identity held by owner.
func (l *ledgerTx) IdentityByOwner(owner registry.Address) (*registry.Identity, error) {
	return l.identityRow(
		`SELECT `+identityColumns+` FROM identities WHERE owner = ? AND is_active = 1
		 ORDER BY created_at DESC LIMIT 1`,
		owner,
	)
}

// CreateIdentity inserts a new version and moves the handle's latest pointer.
func (l *ledgerTx) CreateIdentity(id *registry.Identity) error {
	if err := l.writable(); err != nil {
		return err
	}
	if id.Version == 1 {
		res, err := l.tx.Exec(`INSERT OR IGNORE INTO handles (handle, latest_version) VALUES (?, 1)`, id.Handle)
		if err != nil {
			return fmt.Errorf("create handle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return registry.ErrDuplicateKey
		}
	} else {
		res, err := l.tx.Exec(
			`UPDATE handles SET latest_version = ? WHERE handle = ? AND latest_version = ?`,
			id.Version, id.Handle, id.Version-1,
		)
		if err != nil {
			return fmt.Errorf("advance handle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return registry.ErrDuplicateKey
		}
	}

	sns, err := json.Marshal(id.SNS)
	if err != nil {
		return fmt.Errorf("encode sns: %w", err)
	}
	_, err = l.tx.Exec(
		`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.Handle, id.Version, id.SchemaVersion, id.Owner, id.Mint, id.Name, id.HexID[:],
		i64(id.Score), int(id.Tier), boolToInt(id.IsActive), id.URI, id.PublicData,
		id.LastClaimTimestamp, id.CreatedAt, string(sns), id.PrivateVault,
		i64(id.Recommendations), i64(id.Reports),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return registry.ErrDuplicateKey
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// PutIdentity overwrites the mutable fields of an existing version.
func (l *ledgerTx) PutIdentity(id *registry.Identity) error {
	if err := l.writable(); err != nil {
		return err
	}
	sns, err := json.Marshal(id.SNS)
	if err != nil {
		return fmt.Errorf("encode sns: %w", err)
	}
	res, err := l.tx.Exec(
		`UPDATE identities SET schema_version = ?, owner = ?, mint = ?, name = ?, score = ?, tier = ?,
		 is_active = ?, uri = ?, public_data = ?, last_claim_timestamp = ?, sns = ?, private_vault = ?,
		 recommendations = ?, reports = ?
		 WHERE handle = ? AND version = ?`,
		id.SchemaVersion, id.Owner, id.Mint, id.Name, i64(id.Score), int(id.Tier),
		boolToInt(id.IsActive), id.URI, id.PublicData, id.LastClaimTimestamp, string(sns), id.PrivateVault,
		i64(id.Recommendations), i64(id.Reports),
		id.Handle, id.Version,
	)
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	if n == 0 {
		return registry.ErrIdentityNotFound
	}
	return nil
}

// Identities returns the latest version of every lineage, sorted by handle.
func (l *ledgerTx) Identities() ([]registry.Identity, error) {
	rows, err := l.tx.Query(
		`SELECT ` + qualified("i", identityColumns) + ` FROM identities i
		 JOIN handles h ON h.handle = i.handle AND h.latest_version = i.version
		 ORDER BY i.handle`,
	)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var ids []registry.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, *id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return ids, nil
}

// qualified prefixes every column in a comma-separated list with alias.
func qualified(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Balance returns the amount held by owner in asset, zero if absent.
func (l *ledgerTx) Balance(owner registry.Address, asset registry.Asset) (uint64, error) {
	var amount int64
	err := l.tx.QueryRow(
		`SELECT amount FROM balances WHERE owner = ? AND asset = ?`, owner, string(asset),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return u64(amount), nil
}

func (l *ledgerTx) setBalance(owner registry.Address, asset registry.Asset, amount uint64) error {
	_, err := l.tx.Exec(
		`INSERT INTO balances (owner, asset, amount) VALUES (?, ?, ?)
		 ON CONFLICT(owner, asset) DO UPDATE SET amount = excluded.amount`,
		owner, string(asset), i64(amount),
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *ledgerTx) Transfer(from, to registry.Address, asset registry.Asset, amount uint64) error {
	if err := l.writable(); err != nil {
		return err
	}
	if amount == 0 || from == to {
		return nil
	}
	src, err := l.Balance(from, asset)
	if err != nil {
		return err
	}
	if src < amount {
		return registry.ErrInsufficientFunds
	}
	dst, err := l.Balance(to, asset)
	if err != nil {
		return err
	}
	if dst+amount < dst {
		return fmt.Errorf("transfer: balance of %s overflows", to.Short())
	}
	if err := l.setBalance(from, asset, src-amount); err != nil {
		return err
	}
	return l.setBalance(to, asset, dst+amount)
}

// Mint credits amount of asset to a holder.
func (l *ledgerTx) Mint(to registry.Address, asset registry.Asset, amount uint64) error {
	if err := l.writable(); err != nil {
		return err
	}
	cur, err := l.Balance(to, asset)
	if err != nil {
		return err
	}
	if cur+amount < cur {
		return fmt.Errorf("mint: balance of %s overflows", to.Short())
	}
	return l.setBalance(to, asset, cur+amount)
}

// AppendEvent inserts e and assigns its sequence number.
func (l *ledgerTx) AppendEvent(e *registry.Event) error {
	if err := l.writable(); err != nil {
		return err
	}
	res, err := l.tx.Exec(
		`INSERT INTO events (type, actor, handle, target, amount, score, tier, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.Actor, e.Handle, e.Target, i64(e.Amount), i64(e.Score), int(e.Tier), e.At,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	e.Seq = uint64(seq)
	return nil
}

// Events returns up to limit events with seq greater than after.
func (l *ledgerTx) Events(after uint64, limit int) ([]registry.Event, error) {
	rows, err := l.tx.Query(
		`SELECT seq, type, actor, handle, target, amount, score, tier, at
		 FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		i64(after), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []registry.Event
	for rows.Next() {
		var (
			e                  registry.Event
			seq, amount, score int64
			tier               int
		)
		if err := rows.Scan(&seq, &e.Type, &e.Actor, &e.Handle, &e.Target, &amount, &score, &tier, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Seq = u64(seq)
		e.Amount = u64(amount)
		e.Score = u64(score)
		e.Tier = uint8(tier)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
