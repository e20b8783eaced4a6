// Package core provides the license import pipeline.
//
// An uploaded CSV file becomes an [ImportSession] holding one [ImportRow] per
// data line. The session is previewed by a human and then either committed,
// materializing categories and licenses in one transaction, or cancelled.
// Nothing in this package depends on HTTP; the web layer and tests drive it
// through [Service].
//
// # Pipeline
//
//  1. Upload: the file is checked (extension, content type, size), stored under
//     a generated name and parsed. Missing required columns abort the upload
//     with a [StructuralError] and no session is created.
//  2. Validation: [RowValidator] turns each record into a typed ImportRow and
//     collects every rule it breaks.
//  3. Classification: [Classify] flags duplicates across the whole file, then
//     resolves each valid row against a [Snapshot] of stored entities and sets
//     its Action to New, Update or Invalid.
//  4. Session: [BuildSession] aggregates the counts and the session is persisted
//     as Pending together with its rows.
//  5. Commit: [Service.Commit] re-resolves the rows against fresh data with
//     [Resolve], which returns a list of intents, and applies them inside one
//     store transaction along with the audit entries and the session transition.
//
// # Matching
//
// A row updates an existing license when its LicenseId names one, or when its
// natural key matches. The natural key is the lower-cased, trimmed
// name|vendor|category triple. Categories are matched by name alone.
//
// # Error Handling
//
// Row problems are data: they end up in ImportRow.ErrorMessage and never abort
// processing. Structural, precondition and transactional failures are returned
// as errors. [MapError] converts any of them to a coded [UserMessage]:
//
//   - FILE001-FILE007: upload and file format errors
//   - IMP001-IMP006: session lifecycle and commit preconditions
//   - DB001-DB007: store errors
//   - UPL002-UPL005: capacity, cancellation and timeouts
package core
