// Package domain models air-quality measurements and the health advisories
// derived from them.
//
// # Data Source
//
// Measurements come from the OpenAQ v2 measurements endpoint
// (https://api.openaq.org/v2/measurements). The response body is an envelope
// with a "results" array; each element describes one reading:
//
//	{"location":"Anand Vihar","parameter":"pm25","value":120,"unit":"µg/m³",
//	 "date":{"utc":"2024-01-01T10:00:00+00:00","local":"2024-01-01T15:30:00+05:30"},
//	 "sourceName":"CPCB"}
//
// # Payload Conventions
//
// Timestamp shape:
//
//	Most records carry "date" as an object with a "utc" key. Some producers
//	send a flat ISO-8601 string instead. [RawTimestamp] holds either shape;
//	the nested "utc" value wins when present.
//
// Timestamp format:
//
//	RFC 3339 with optional fractional seconds. Offsets may be written
//	"+05:30" or "+0530". Date-times without an offset are read as UTC, and a
//	bare date means midnight UTC. Everything is converted to UTC.
//
// Pollutant codes:
//
//	Case-insensitive on the wire ("PM25", "pm25"). Normalized to trimmed
//	lower case, e.g. pm25, pm10, no2, o3, so, co.
//
// Values:
//
//	Usually JSON numbers; numeric strings are accepted. Missing, non-numeric,
//	NaN and infinite values drop the record rather than becoming zero.
//
// # Normalization
//
// [Normalize] turns raw records into a [MeasurementSeries]: sorted by
// timestamp, then parameter, then location, with at most one reading per
// (location, parameter, timestamp). The first occurrence of a duplicate wins.
// Dropped records are reported as [Skipped] values, never as errors. Only a
// payload that is not a sequence of objects at all is an error ([ErrShape]).
//
// # Advisories
//
// An advisory ladder maps a concentration onto an [AdvisoryLevel] through
// closed-open bands covering [0, +Inf). PM2.5 (µg/m³):
//
//	[0,50) Good | [50,100) Moderate | [100,200) Poor | [200,300) Unhealthy | [300,+Inf) Hazardous
//
// Pollutants without a ladder fail with [ErrUnknownPollutant]; negative or
// non-finite values fail with [ErrInvalidValue]. Nothing defaults to Good.
package domain
