// Package schedule keeps a resource's snapshot schedule consistent across
// two stores it does not own:
//   - the resource registry, where the retention count lives in the
//     metadata bag under SettingKey
//   - the external scheduler service, which holds at most one recurring
//     "snapshot" Job per resource
//
// Reconciler implements read/create/delete of the setting. Filter annotates
// and filters resource listings and cleans up after resource deletion.
//
// Neither type locks across the two stores. Duplicate jobs created by
// racing requests surface later as ConsistencyViolation errors.
package schedule
