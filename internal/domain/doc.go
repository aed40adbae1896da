// Package domain models the daily forecast cycle of a river-basin model.
//
// # Dates
//
// Every invocation resolves one window from a single clock reading taken in
// the model's time zone:
//
//	target   = yesterday   the raw data date to ingest, and the forecast start
//	forecast = today       the forecast issue date
//	end      = today + N   N is the horizon, 5 days by default
//
// Ledgers and raw file names use the compact YYYYMMDD form. Forecast control
// files use the long form "15 March 2024".
//
// # Stages
//
// A model moves through two ledger-tracked stages per date, ingest then
// forecast. Their states are never persisted: each run re-derives them from
// the ledgers, so running again is always safe.
//
//	AwaitingIngestData -> Ingesting -> Ingested -> AwaitingForecastRun -> RunningForecast -> Done
//
// A date is written to a ledger only after its stage fully succeeded.
//
// # Cutoff
//
// Missing raw data is waited for until the model's cutoff time of day. From
// the cutoff on, the date is skipped for the day and logged as a warning; it
// is not marked done, so a later run that finds the file still ingests it.
package domain
