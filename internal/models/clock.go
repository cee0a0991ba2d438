package models

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock представляет векторные часы: счетчик событий для каждого устройства.
// Отсутствующий ключ эквивалентен нулю.
type VectorClock map[string]uint64

// Clone создает независимую копию часов.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for id, c := range vc {
		out[id] = c
	}
	return out
}

// Get возвращает значение счетчика устройства (0, если устройство неизвестно).
func (vc VectorClock) Get(deviceID string) uint64 {
	return vc[deviceID]
}

// Merge поднимает каждую координату до максимума из двух часов.
// Изменяет получателя; nil-получатель недопустим.
func (vc VectorClock) Merge(other VectorClock) {
	for id, c := range other {
		if c > vc[id] {
			vc[id] = c
		}
	}
}

// IsNewerThan сообщает, что vc новее other: для каждого устройства из vc
// значение не меньше, чем в other, и хотя бы одно строго больше.
// Координаты, которые есть только в other, не учитываются.
func (vc VectorClock) IsNewerThan(other VectorClock) bool {
	newer := false
	for id, c := range vc {
		prev := other[id]
		if c < prev {
			return false
		}
		if c > prev {
			newer = true
		}
	}
	return newer
}

// LessOrEqual сообщает, что vc доминируется other (каждая координата vc <= other).
func (vc VectorClock) LessOrEqual(other VectorClock) bool {
	for id, c := range vc {
		if c > other[id] {
			return false
		}
	}
	return true
}

// Equal сравнивает часы с учетом того, что нулевые координаты эквивалентны отсутствующим.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.LessOrEqual(other) && other.LessOrEqual(vc)
}

// String возвращает детерминированное представление вида {a:1,b:2}.
func (vc VectorClock) String() string {
	ids := make([]string, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s:%d", id, vc[id]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
