// Package quota evaluates subscription usage against plan limits.
//
// Over-limit items are soft locked rather than removed: items are ordered by
// creation time (oldest first, ties broken by id), the first limit items stay
// writable and the remainder become read-only until the user upgrades or
// deletes other items. Storage is locked by cumulative bytes in the same
// order. Evaluate is pure and is expected to run on every status read.
package quota

import (
	"cmp"
	"slices"
	"time"

	"makercalc/internal/apperr"
)

// Resource names a quota bound resource type.
type Resource string

const (
	Materials       Resource = "materials"
	Formulations    Resource = "formulations"
	Vendors         Resource = "vendors"
	Categories      Resource = "categories"
	FileAttachments Resource = "file_attachments"
	Storage         Resource = "storage"
)

// Resources lists every resource in display order.
var Resources = []Resource{Materials, Formulations, Vendors, Categories, FileAttachments, Storage}

// Unlimited marks a limit that never blocks.
const Unlimited int64 = -1

// Limits maps each resource to its plan limit. A missing entry is unlimited.
type Limits map[Resource]int64

// Limit returns the limit for res.
func (l Limits) Limit(res Resource) int64 {
	limit, ok := l[res]
	if !ok {
		return Unlimited
	}
	return limit
}

// Item is the minimal view of a quota bound record.
type Item struct {
	ID        uint
	CreatedAt time.Time
	Size      int64
}

// Snapshot holds the current items of every resource. For Storage the items
// are file attachments and Size carries their byte count.
type Snapshot map[Resource][]Item

// ResourceStatus is the evaluated state of one resource.
type ResourceStatus struct {
	Resource    Resource `json:"resource"`
	Usage       int64    `json:"usage"`
	Limit       int64    `json:"limit"`
	Unlimited   bool     `json:"unlimited"`
	IsOverLimit bool     `json:"is_over_limit"`
	CanCreate   bool     `json:"can_create"`
	ReadOnlyIDs []uint   `json:"read_only_ids"`
}

// IsReadOnly reports whether id is soft locked.
func (s ResourceStatus) IsReadOnly(id uint) bool {
	return slices.Contains(s.ReadOnlyIDs, id)
}

// Status is the evaluated state of every resource.
type Status struct {
	Resources  map[Resource]ResourceStatus `json:"resources"`
	SoftLocked bool                        `json:"soft_locked"`
}

// Resource returns the status of res.
func (s Status) Resource(res Resource) ResourceStatus {
	return s.Resources[res]
}

func IsOverLimit(usage, limit int64) bool {
	return limit != Unlimited && usage > limit
}

func CanCreate(usage, limit int64) bool {
	return limit == Unlimited || usage < limit
}

// Evaluate classifies every resource of snap against limits.
func Evaluate(limits Limits, snap Snapshot) Status {
	status := Status{Resources: make(map[Resource]ResourceStatus, len(Resources))}
	for _, res := range Resources {
		rs := EvaluateResource(res, limits.Limit(res), snap[res])
		status.Resources[res] = rs
		if rs.IsOverLimit {
			status.SoftLocked = true
		}
	}
	return status
}

// EvaluateResource classifies the items of a single resource.
func EvaluateResource(res Resource, limit int64, items []Item) ResourceStatus {
	ordered := append([]Item(nil), items...)
	slices.SortFunc(ordered, func(a, b Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	rs := ResourceStatus{
		Resource:    res,
		Limit:       limit,
		Unlimited:   limit == Unlimited,
		ReadOnlyIDs: []uint{},
	}

	if res == Storage {
		var used int64
		for _, item := range ordered {
			used += item.Size
			if limit != Unlimited && used > limit {
				rs.ReadOnlyIDs = append(rs.ReadOnlyIDs, item.ID)
			}
		}
		rs.Usage = used
	} else {
		rs.Usage = int64(len(ordered))
		if limit != Unlimited {
			for i, item := range ordered {
				if int64(i) >= limit {
					rs.ReadOnlyIDs = append(rs.ReadOnlyIDs, item.ID)
				}
			}
		}
	}

	rs.IsOverLimit = IsOverLimit(rs.Usage, limit)
	rs.CanCreate = CanCreate(rs.Usage, limit)
	return rs
}

// CheckCreate returns a QuotaExceededError when one more res may not be created.
func CheckCreate(res Resource, usage, limit int64) error {
	if CanCreate(usage, limit) {
		return nil
	}
	return &apperr.QuotaExceededError{Resource: string(res), Usage: usage, Limit: limit}
}

// CheckStorage returns a QuotaExceededError when adding incoming bytes would
// push usage past limit.
func CheckStorage(usage, incoming, limit int64) error {
	if limit == Unlimited || usage+incoming <= limit {
		return nil
	}
	return &apperr.QuotaExceededError{Resource: string(Storage), Usage: usage, Limit: limit}
}

// CheckWritable returns a ReadOnlyError when id is soft locked in rs.
func CheckWritable(rs ResourceStatus, id uint) error {
	if !rs.IsReadOnly(id) {
		return nil
	}
	return &apperr.ReadOnlyError{Resource: string(rs.Resource), ItemID: id, Limit: rs.Limit}
}
