package device

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/matterverse/matterverse-core/internal/datamodel"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByNodeID retrieves a device with its full endpoint tree.
	// Returns ErrDeviceNotFound if the node does not exist.
	GetByNodeID(ctx context.Context, nodeID uint64) (*Device, error)

	// List retrieves all devices with their endpoint trees.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a device, its identity row and one row per endpoint.
	// Returns ErrDeviceExists if the node ID is already registered.
	Create(ctx context.Context, device *Device) error

	// Delete removes a device and all its endpoints and attributes.
	// Returns ErrDeviceNotFound if the node does not exist.
	Delete(ctx context.Context, nodeID uint64) error

	// DeleteEndpoint removes one endpoint and its attributes. The identity
	// row goes too once the last endpoint is gone.
	// Returns ErrEndpointNotFound if the endpoint does not exist.
	DeleteEndpoint(ctx context.Context, nodeID uint64, endpoint uint16) error

	// UpsertAttribute writes the last known value of one attribute.
	UpsertAttribute(ctx context.Context, nodeID uint64, endpoint uint16, cluster string, attr *Attribute) error

	// AppendHistory journals one applied value change.
	AppendHistory(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, value string, observedAt time.Time) error

	// PruneHistory removes journal rows recorded before the cutoff and
	// reports how many were removed.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)

	// NextNodeID returns the lowest node ID above every registered node.
	NextNodeID(ctx context.Context) (uint64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByNodeID retrieves a device with its full endpoint tree.
func (r *SQLiteRepository) GetByNodeID(ctx context.Context, nodeID uint64) (*Device, error) {
	devices, err := r.loadDevices(ctx, "WHERE d.node_id = ?", nodeID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}
	return &devices[0], nil
}

// List retrieves all devices with their endpoint trees.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.loadDevices(ctx, "")
}

// Create inserts a device, its identity row and one row per endpoint.
// Attributes already present on the device (from discovery) are persisted too.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx,
		`INSERT INTO device_identity (node_id, vendor_name, product_name, unique_id)
		 VALUES (?, ?, ?, ?)`,
		device.NodeID, device.VendorName, device.ProductName, device.UniqueID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device identity: %w", err)
	}

	for _, ep := range device.Endpoints {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO devices (node_id, endpoint, device_type, topic_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			device.NodeID, ep.ID, ep.DeviceType, ep.TopicID,
			device.CreatedAt.Format(time.RFC3339),
			device.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrDeviceExists
			}
			return fmt.Errorf("inserting endpoint %d: %w", ep.ID, err)
		}

		for _, cl := range ep.Clusters {
			for _, attr := range cl.Attributes {
				if err := upsertAttributeTx(ctx, tx, device.NodeID, ep.ID, cl.Token, attr); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// Delete removes a device and all its endpoints and attributes.
// Attribute rows are removed by the foreign key cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, nodeID uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE node_id = ?", nodeID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_identity WHERE node_id = ?", nodeID); err != nil {
		return fmt.Errorf("deleting device identity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM attribute_history WHERE node_id = ?", nodeID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// DeleteEndpoint removes one endpoint and its attributes. When no
// endpoints remain for the node, the identity row is removed as well.
func (r *SQLiteRepository) DeleteEndpoint(ctx context.Context, nodeID uint64, endpoint uint16) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx,
		"DELETE FROM devices WHERE node_id = ? AND endpoint = ?", nodeID, endpoint)
	if err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEndpointNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE node_id = ?", nodeID).Scan(&remaining); err != nil {
		return fmt.Errorf("counting remaining endpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM attribute_history WHERE node_id = ? AND endpoint = ?", nodeID, endpoint); err != nil {
		return fmt.Errorf("deleting endpoint history: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM device_identity WHERE node_id = ?", nodeID); err != nil {
			return fmt.Errorf("deleting device identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing endpoint delete: %w", err)
	}
	return nil
}

// UpsertAttribute writes the last known value of one attribute.
func (r *SQLiteRepository) UpsertAttribute(ctx context.Context, nodeID uint64, endpoint uint16, cluster string, attr *Attribute) error {
	return upsertAttributeTx(ctx, r.db, nodeID, endpoint, cluster, attr)
}

// AppendHistory journals one applied value change.
func (r *SQLiteRepository) AppendHistory(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, value string, observedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attribute_history (node_id, endpoint, cluster, attribute, value, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nodeID, endpoint, cluster, attribute, value,
		observedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending history %s/%s: %w", cluster, attribute, err)
	}
	return nil
}

// PruneHistory removes journal rows recorded before the cutoff.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM attribute_history WHERE recorded_at < ?",
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return removed, nil
}

// NextNodeID returns the lowest node ID above every registered node.
// Node IDs are never reused while a device remains registered.
func (r *SQLiteRepository) NextNodeID(ctx context.Context) (uint64, error) {
	var next uint64
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(node_id), 0) + 1 FROM device_identity",
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("querying next node id: %w", err)
	}
	return next, nil
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertAttributeTx(ctx context.Context, ex execer, nodeID uint64, endpoint uint16, cluster string, attr *Attribute) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO attributes (node_id, endpoint, cluster, attribute, type, value, writable, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (node_id, endpoint, cluster, attribute) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			writable = excluded.writable,
			observed_at = excluded.observed_at`,
		nodeID, endpoint, cluster, attr.Name,
		attr.Type, FormatValue(attr.Value), boolToInt(attr.Writable),
		attr.ObservedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting attribute %s/%s: %w", cluster, attr.Name, err)
	}
	return nil
}

// loadDevices assembles the full device tree from the three tables.
// The filter clause applies to the devices table aliased as d.
func (r *SQLiteRepository) loadDevices(ctx context.Context, filter string, args ...any) ([]Device, error) {
	query := fmt.Sprintf(`
		SELECT d.node_id, d.endpoint, d.device_type, d.topic_id, d.created_at, d.updated_at,
			i.vendor_name, i.product_name, i.unique_id
		FROM devices d
		JOIN device_identity i ON i.node_id = d.node_id
		%s
		ORDER BY d.node_id, d.endpoint`, filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	byNode := make(map[uint64]*Device)
	var order []uint64
	for rows.Next() {
		var (
			nodeID               uint64
			endpoint             uint16
			deviceType, topicID  string
			createdAt, updatedAt string
			vendor, product, uid string
		)
		if err := rows.Scan(&nodeID, &endpoint, &deviceType, &topicID,
			&createdAt, &updatedAt, &vendor, &product, &uid); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}

		dev, ok := byNode[nodeID]
		if !ok {
			dev = &Device{
				NodeID:      nodeID,
				VendorName:  vendor,
				ProductName: product,
				UniqueID:    uid,
				Endpoints:   make(map[uint16]*Endpoint),
				CreatedAt:   parseStoredTime(createdAt),
				UpdatedAt:   parseStoredTime(updatedAt),
			}
			byNode[nodeID] = dev
			order = append(order, nodeID)
		}
		dev.Endpoints[endpoint] = &Endpoint{
			ID:         endpoint,
			DeviceType: deviceType,
			TopicID:    topicID,
			Clusters:   make(map[string]*Cluster),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}

	if len(byNode) == 0 {
		return nil, nil
	}

	if err := r.loadAttributes(ctx, byNode, filter, args...); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(order))
	for _, nodeID := range order {
		devices = append(devices, *byNode[nodeID])
	}
	return devices, nil
}

func (r *SQLiteRepository) loadAttributes(ctx context.Context, byNode map[uint64]*Device, filter string, args ...any) error {
	query := fmt.Sprintf(`
		SELECT d.node_id, d.endpoint, a.cluster, a.attribute, a.type, a.value, a.writable, a.observed_at
		FROM attributes a
		JOIN devices d ON d.node_id = a.node_id AND d.endpoint = a.endpoint
		%s
		ORDER BY d.node_id, d.endpoint, a.cluster, a.attribute`, filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nodeID     uint64
			endpoint   uint16
			cluster    string
			name       string
			typeName   string
			rawValue   string
			writable   int
			observedAt string
		)
		if err := rows.Scan(&nodeID, &endpoint, &cluster, &name,
			&typeName, &rawValue, &writable, &observedAt); err != nil {
			return fmt.Errorf("scanning attribute row: %w", err)
		}

		dev, ok := byNode[nodeID]
		if !ok {
			continue
		}
		ep, ok := dev.Endpoints[endpoint]
		if !ok {
			continue
		}
		cl, ok := ep.Clusters[cluster]
		if !ok {
			cl = &Cluster{Token: cluster, Attributes: make(map[string]*Attribute)}
			ep.Clusters[cluster] = cl
		}

		value, err := CoerceValue(datamodel.KindOf(typeName), rawValue)
		if err != nil {
			// Stored value no longer matches its declared type; keep it
			// as a string rather than dropping the attribute.
			value = rawValue
		}
		cl.Attributes[name] = &Attribute{
			Name:       name,
			Type:       typeName,
			Writable:   writable != 0,
			Value:      value,
			ObservedAt: parseStoredTime(observedAt),
		}
	}
	return rows.Err()
}

// parseStoredTime parses a stored timestamp, accepting both second and
// nanosecond precision forms.
func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError detects SQLite unique constraint violations.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
