package fat

import "time"

// Directory entries carry separate 16-bit time and date fields
// relative to the MS-DOS epoch: time is hours<<11 | minutes<<5 |
// seconds/2, date is (year-1980)<<9 | month<<5 | day.

func dosTime(t time.Time) (timeField, dateField uint16) {
	if t.IsZero() {
		return 0, 0
	}
	t = t.UTC()
	timeField = uint16(t.Hour())<<11 |
		uint16(t.Minute())<<5 |
		uint16(t.Second()/2)
	dateField = uint16(t.Year()-1980)<<9 |
		uint16(t.Month())<<5 |
		uint16(t.Day())
	return timeField, dateField
}

// fromDOSTime decodes the field pair. A zero day or month is invalid
// per the FAT specification; the zero time.Time is returned so
// callers can use IsZero.
func fromDOSTime(timeField, dateField uint16) time.Time {
	day := int(dateField & 0x1F)
	month := int(dateField >> 5 & 0x0F)
	year := 1980 + int(dateField>>9)
	if day == 0 || month == 0 {
		return time.Time{}
	}
	seconds := int(timeField&0x1F) * 2
	minutes := int(timeField >> 5 & 0x3F)
	hours := int(timeField >> 11)
	return time.Date(year, time.Month(month), day, hours, minutes, seconds, 0, time.UTC)
}
