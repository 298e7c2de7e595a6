// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package scheduler

// ErrorKind classifies a job failure for outcome reporting. The kind drives
// alerting and skip policy only; it never changes commit semantics.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindObjectStore
	ErrorKindCatalog
	ErrorKindTimeout
	ErrorKindInterrupted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindObjectStore:
		return "object_store"
	case ErrorKindCatalog:
		return "catalog"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}
