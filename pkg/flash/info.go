package flash

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

// SectorInfo describes one sector of an explicit sector table.
type SectorInfo struct {
	Start uint32 // first address
	End   uint32 // last address, Start+size-1
}

// Size returns the sector size in bytes.
func (s SectorInfo) Size() uint32 {
	return s.End - s.Start + 1
}

// Contains reports whether addr lies inside the sector.
func (s SectorInfo) Contains(addr uint32) bool {
	return addr >= s.Start && addr <= s.End
}

// Info is the device geometry. Sectors is nil for uniform devices, where
// SectorCount sectors of SectorSize bytes start at address zero.
type Info struct {
	Sectors     []SectorInfo
	SectorCount uint32
	SectorSize  uint32
	PageSize    uint32 // optimal programming page
	ProgramUnit uint32 // smallest programmable unit
	ErasedValue byte   // content of erased memory, usually 0xFF
}

// Uniform returns the geometry of a device with equally sized sectors.
func Uniform(count, size, pageSize, programUnit uint32, erased byte) Info {
	return Info{
		SectorCount: count,
		SectorSize:  size,
		PageSize:    pageSize,
		ProgramUnit: programUnit,
		ErasedValue: erased,
	}
}

// Validate checks the geometry for consistency.
func (obj Info) Validate() error {
	if obj.ProgramUnit == 0 || obj.PageSize == 0 || obj.PageSize%obj.ProgramUnit != 0 {
		return fmt.Errorf("%w: page size %d, program unit %d", hal.ErrParameter, obj.PageSize, obj.ProgramUnit)
	}
	if obj.Sectors == nil {
		if obj.SectorCount == 0 || obj.SectorSize == 0 || obj.SectorSize%obj.ProgramUnit != 0 {
			return fmt.Errorf("%w: %d uniform sectors of %d bytes", hal.ErrParameter, obj.SectorCount, obj.SectorSize)
		}
		return nil
	}
	if len(obj.Sectors) == 0 {
		return fmt.Errorf("%w: empty sector table", hal.ErrParameter)
	}
	var next uint32
	for i, s := range obj.Sectors {
		if s.End < s.Start || (i > 0 && s.Start != next) {
			return fmt.Errorf("%w: sector %d [%#x, %#x] not contiguous", hal.ErrParameter, i, s.Start, s.End)
		}
		if s.Start%obj.ProgramUnit != 0 || s.Size()%obj.ProgramUnit != 0 {
			return fmt.Errorf("%w: sector %d not aligned to program unit", hal.ErrParameter, i)
		}
		next = s.End + 1
	}
	return nil
}

// Count returns the number of sectors.
func (obj Info) Count() uint32 {
	if obj.Sectors != nil {
		return uint32(len(obj.Sectors))
	}
	return obj.SectorCount
}

// Base returns the first address of the device.
func (obj Info) Base() uint32 {
	if obj.Sectors != nil && len(obj.Sectors) > 0 {
		return obj.Sectors[0].Start
	}
	return 0
}

// Size returns the device size in bytes.
func (obj Info) Size() uint32 {
	if obj.Sectors != nil {
		if len(obj.Sectors) == 0 {
			return 0
		}
		return obj.Sectors[len(obj.Sectors)-1].End - obj.Sectors[0].Start + 1
	}
	return obj.SectorCount * obj.SectorSize
}

// Sector returns the sector containing addr.
func (obj Info) Sector(addr uint32) (SectorInfo, bool) {
	if obj.Sectors == nil {
		if obj.SectorSize == 0 || addr >= obj.SectorCount*obj.SectorSize {
			return SectorInfo{}, false
		}
		start := addr - addr%obj.SectorSize
		return SectorInfo{Start: start, End: start + obj.SectorSize - 1}, true
	}
	for _, s := range obj.Sectors {
		if s.Contains(addr) {
			return s, true
		}
	}
	return SectorInfo{}, false
}

// Contains reports whether [addr, addr+n) lies inside the device.
func (obj Info) Contains(addr uint32, n int) bool {
	base := obj.Base()
	end := uint64(base) + uint64(obj.Size())
	return n >= 0 && addr >= base && uint64(addr)+uint64(n) <= end
}
