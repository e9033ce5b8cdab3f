package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the device tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			node_id     INTEGER NOT NULL,
			endpoint    INTEGER NOT NULL,
			device_type TEXT    NOT NULL DEFAULT '',
			topic_id    TEXT    NOT NULL,
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL,
			PRIMARY KEY (node_id, endpoint)
		);
		CREATE UNIQUE INDEX idx_devices_topic_id ON devices (topic_id);
		CREATE TABLE device_identity (
			node_id      INTEGER PRIMARY KEY,
			vendor_name  TEXT NOT NULL DEFAULT '',
			product_name TEXT NOT NULL DEFAULT '',
			unique_id    TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE attributes (
			node_id     INTEGER NOT NULL,
			endpoint    INTEGER NOT NULL,
			cluster     TEXT    NOT NULL,
			attribute   TEXT    NOT NULL,
			type        TEXT    NOT NULL DEFAULT '',
			value       TEXT    NOT NULL DEFAULT '',
			writable    INTEGER NOT NULL DEFAULT 0,
			observed_at TEXT    NOT NULL,
			PRIMARY KEY (node_id, endpoint, cluster, attribute),
			FOREIGN KEY (node_id, endpoint) REFERENCES devices (node_id, endpoint)
				ON DELETE CASCADE
		);
		CREATE INDEX idx_attributes_device ON attributes (node_id, endpoint);
		CREATE TABLE attribute_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id     INTEGER NOT NULL,
			endpoint    INTEGER NOT NULL,
			cluster     TEXT    NOT NULL,
			attribute   TEXT    NOT NULL,
			value       TEXT    NOT NULL DEFAULT '',
			recorded_at TEXT    NOT NULL
		);
		CREATE INDEX idx_attribute_history_recorded_at ON attribute_history (recorded_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(5)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByNodeID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByNodeID() error = %v", err)
	}
	if got.VendorName != "Acme" || got.UniqueID != "ABC123" {
		t.Errorf("GetByNodeID() identity = %s/%s, want Acme/ABC123", got.VendorName, got.UniqueID)
	}
	ep, ok := got.Endpoints[1]
	if !ok {
		t.Fatal("GetByNodeID() missing endpoint 1")
	}
	if ep.DeviceType != "0x0100" {
		t.Errorf("endpoint device type = %s, want 0x0100", ep.DeviceType)
	}

	// Attributes round-trip with their coerced types
	attr := ep.Clusters["onoff"].Attributes["on-off"]
	if attr == nil {
		t.Fatal("GetByNodeID() missing on-off attribute")
	}
	if attr.Value != false {
		t.Errorf("on-off value = %v (%T), want false (bool)", attr.Value, attr.Value)
	}
	level := ep.Clusters["levelcontrol"].Attributes["current-level"]
	if level == nil {
		t.Fatal("GetByNodeID() missing current-level attribute")
	}
	if level.Value != int64(128) {
		t.Errorf("current-level value = %v (%T), want 128 (int64)", level.Value, level.Value)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(5)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice(5)); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_GetByNodeID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByNodeID(context.Background(), 99)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByNodeID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() on empty db = %d devices, want 0", len(devices))
	}

	if err := repo.Create(ctx, testDevice(2)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice(7)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	devices, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() = %d devices, want 2", len(devices))
	}
	if devices[0].NodeID != 2 || devices[1].NodeID != 7 {
		t.Errorf("List() order = [%d, %d], want [2, 7]", devices[0].NodeID, devices[1].NodeID)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(5)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, 5); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByNodeID(ctx, 5); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByNodeID() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, 5); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpsertAttribute(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(5)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	observedAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	attr := &Attribute{
		Name:       "on-off",
		Type:       "boolean",
		Writable:   true,
		Value:      true,
		ObservedAt: observedAt,
	}
	if err := repo.UpsertAttribute(ctx, 5, 1, "onoff", attr); err != nil {
		t.Fatalf("UpsertAttribute() error = %v", err)
	}

	got, err := repo.GetByNodeID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByNodeID() error = %v", err)
	}
	stored := got.Endpoints[1].Clusters["onoff"].Attributes["on-off"]
	if stored.Value != true {
		t.Errorf("stored value = %v, want true", stored.Value)
	}
	if !stored.ObservedAt.Equal(observedAt) {
		t.Errorf("stored observed_at = %v, want %v", stored.ObservedAt, observedAt)
	}

	// Upserting an attribute the device did not have before adds it
	hue := &Attribute{
		Name:       "current-hue",
		Type:       "int8u",
		Value:      int64(200),
		ObservedAt: observedAt,
	}
	if err := repo.UpsertAttribute(ctx, 5, 1, "colorcontrol", hue); err != nil {
		t.Fatalf("UpsertAttribute() new cluster error = %v", err)
	}
	got, err = repo.GetByNodeID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByNodeID() error = %v", err)
	}
	if got.Endpoints[1].Clusters["colorcontrol"].Attributes["current-hue"].Value != int64(200) {
		t.Error("UpsertAttribute() did not store the new attribute")
	}
}

func TestSQLiteRepository_NextNodeID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	next, err := repo.NextNodeID(ctx)
	if err != nil {
		t.Fatalf("NextNodeID() error = %v", err)
	}
	if next != 1 {
		t.Errorf("NextNodeID() on empty db = %d, want 1", next)
	}

	if err := repo.Create(ctx, testDevice(9)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next, err = repo.NextNodeID(ctx)
	if err != nil {
		t.Fatalf("NextNodeID() error = %v", err)
	}
	if next != 10 {
		t.Errorf("NextNodeID() = %d, want 10", next)
	}
}

func TestSQLiteRepository_DeleteEndpoint(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice(5)
	dev.Endpoints[2] = &Endpoint{
		ID:         2,
		DeviceType: "0x0101",
		TopicID:    TopicID("Acme", "Bulb", 5, 2, "ABC123"),
		Clusters:   map[string]*Cluster{},
	}
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.DeleteEndpoint(ctx, 5, 1); err != nil {
		t.Fatalf("DeleteEndpoint() error = %v", err)
	}

	// Identity survives while another endpoint remains
	got, err := repo.GetByNodeID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByNodeID() error = %v", err)
	}
	if _, ok := got.Endpoints[1]; ok {
		t.Error("endpoint 1 still present after delete")
	}
	if got.VendorName != "Acme" {
		t.Errorf("identity vendor = %s, want Acme", got.VendorName)
	}

	if err := repo.DeleteEndpoint(ctx, 5, 2); err != nil {
		t.Fatalf("DeleteEndpoint() last endpoint error = %v", err)
	}
	if _, err := repo.GetByNodeID(ctx, 5); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByNodeID() after last endpoint = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.DeleteEndpoint(ctx, 5, 1); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("DeleteEndpoint() missing = %v, want ErrEndpointNotFound", err)
	}
}

func TestSQLiteRepository_History(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(5)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i, value := range []string{"true", "false", "true"} {
		err := repo.AppendHistory(ctx, 5, 1, "onoff", "on-off", value, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
	}

	// Prune everything before the last entry
	removed, err := repo.PruneHistory(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("PruneHistory() removed = %d, want 2", removed)
	}

	removed, err = repo.PruneHistory(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PruneHistory() repeat error = %v", err)
	}
	if removed != 0 {
		t.Errorf("PruneHistory() repeat removed = %d, want 0", removed)
	}
}
