package sdp

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// AttrServiceClassIDList is the attribute populated at registration.
const AttrServiceClassIDList uint16 = 0x0001

// Record is a published service record.
type Record struct {
	Handle     uint32
	Owner      uint32
	Persistent bool
	Attributes map[uint16][]byte
}

// Permit reports whether the caller may modify a record held by owner.
// A nil Permit allows every caller.
type Permit func(owner uint32) bool

// Config configures a Manager.
type Config struct {
	// Registry holds the lock.
	Registry *registry.Registry

	// Database is the stack's SDP database.
	Database stack.ServiceDatabase

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

// Manager tracks service records and their owners.
type Manager struct {
	reg     *registry.Registry
	db      stack.ServiceDatabase
	log     logrus.FieldLogger
	records *orderedmap.OrderedMap[uint32, *Record]
}

// New creates an empty manager.
func New(config Config) *Manager {
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}
	return &Manager{
		reg:     config.Registry,
		db:      config.Database,
		log:     config.Log.WithField("component", "sdp"),
		records: orderedmap.New[uint32, *Record](),
	}
}

// Register creates a record listing classes and returns its handle.
func (m *Manager) Register(owner uint32, persistent bool, classes []uuid.UUID) (uint32, error) {
	m.reg.Acquire()
	defer m.reg.Release()

	if err := m.reg.RequirePoweredLocked(); err != nil {
		return 0, err
	}
	if len(classes) == 0 {
		return 0, fmt.Errorf("%w: no service classes", wire.StatusInvalidParameter)
	}

	handle, err := m.db.CreateRecord()
	if err != nil {
		return 0, fmt.Errorf("%w: create record: %v", wire.StatusInsufficientResources, err)
	}
	value := ServiceClassIDList(classes)
	if err := m.db.SetAttribute(handle, AttrServiceClassIDList, value); err != nil {
		if delErr := m.db.DeleteRecord(handle); delErr != nil {
			m.log.WithError(delErr).Warn("failed to roll back record")
		}
		return 0, fmt.Errorf("%w: set service classes: %v", wire.StatusInternal, err)
	}

	m.records.Set(handle, &Record{
		Handle:     handle,
		Owner:      owner,
		Persistent: persistent,
		Attributes: map[uint16][]byte{AttrServiceClassIDList: value},
	})
	m.log.WithFields(logrus.Fields{
		"handle":     fmt.Sprintf("0x%08X", handle),
		"owner":      owner,
		"persistent": persistent,
	}).Info("service record registered")
	return handle, nil
}

// Delete removes a record.
func (m *Manager) Delete(handle uint32, permit Permit) error {
	m.reg.Acquire()
	defer m.reg.Release()

	if _, err := m.writableLocked(handle, permit); err != nil {
		return err
	}
	m.deleteLocked(handle)
	return nil
}

// AddAttribute adds or replaces an attribute. The value must be one
// encoded data element.
func (m *Manager) AddAttribute(handle uint32, id uint16, value []byte, permit Permit) error {
	m.reg.Acquire()
	defer m.reg.Release()

	rec, err := m.writableLocked(handle, permit)
	if err != nil {
		return err
	}
	if err := ValidateElement(value); err != nil {
		return fmt.Errorf("%w: attribute 0x%04X: %v", wire.StatusInvalidParameter, id, err)
	}
	if err := m.db.SetAttribute(handle, id, value); err != nil {
		return fmt.Errorf("%w: set attribute: %v", wire.StatusInternal, err)
	}
	rec.Attributes[id] = append([]byte(nil), value...)
	return nil
}

// DeleteAttribute removes an attribute.
func (m *Manager) DeleteAttribute(handle uint32, id uint16, permit Permit) error {
	m.reg.Acquire()
	defer m.reg.Release()

	rec, err := m.writableLocked(handle, permit)
	if err != nil {
		return err
	}
	if _, ok := rec.Attributes[id]; !ok {
		return fmt.Errorf("%w: no attribute 0x%04X", wire.StatusInvalidParameter, id)
	}
	if err := m.db.DeleteAttribute(handle, id); err != nil {
		return fmt.Errorf("%w: delete attribute: %v", wire.StatusInternal, err)
	}
	delete(rec.Attributes, id)
	return nil
}

// QueryAttribute returns the total length of an attribute value and at
// most limit bytes of it.
func (m *Manager) QueryAttribute(handle uint32, id uint16, limit uint32) (uint32, []byte, error) {
	m.reg.Acquire()
	defer m.reg.Release()

	rec, err := m.recordLocked(handle)
	if err != nil {
		return 0, nil, err
	}
	v, ok := rec.Attributes[id]
	if !ok {
		return 0, nil, fmt.Errorf("%w: no attribute 0x%04X", wire.StatusInvalidParameter, id)
	}
	n := uint32(len(v))
	if limit < n {
		n = limit
	}
	return uint32(len(v)), append([]byte(nil), v[:n]...), nil
}

// Count returns the number of records.
func (m *Manager) Count() int {
	m.reg.Acquire()
	defer m.reg.Release()
	return m.records.Len()
}

// RemoveOwnerLocked deletes the transient records of owner.
func (m *Manager) RemoveOwnerLocked(owner uint32) {
	var victims []uint32
	for pair := m.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Owner == owner && !pair.Value.Persistent {
			victims = append(victims, pair.Key)
		}
	}
	for _, h := range victims {
		m.deleteLocked(h)
	}
}

// DeleteAllLocked deletes every record. Used when powering down.
func (m *Manager) DeleteAllLocked() {
	var all []uint32
	for pair := m.records.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Key)
	}
	for _, h := range all {
		m.deleteLocked(h)
	}
}

func (m *Manager) recordLocked(handle uint32) (*Record, error) {
	rec, ok := m.records.Get(handle)
	if !ok {
		return nil, fmt.Errorf("%w: record 0x%08X", wire.StatusInvalidHandle, handle)
	}
	return rec, nil
}

// writableLocked returns the record behind handle if permit allows the
// caller to modify it. A record the caller may not touch reads as an
// unknown handle.
func (m *Manager) writableLocked(handle uint32, permit Permit) (*Record, error) {
	rec, err := m.recordLocked(handle)
	if err != nil {
		return nil, err
	}
	if permit != nil && !permit(rec.Owner) {
		return nil, fmt.Errorf("%w: record 0x%08X belongs to callback %d", wire.StatusInvalidHandle, handle, rec.Owner)
	}
	return rec, nil
}

func (m *Manager) deleteLocked(handle uint32) {
	m.records.Delete(handle)
	if err := m.db.DeleteRecord(handle); err != nil {
		m.log.WithError(err).WithField("handle", fmt.Sprintf("0x%08X", handle)).Warn("stack record delete failed")
	}
	m.log.WithField("handle", fmt.Sprintf("0x%08X", handle)).Debug("service record deleted")
}
