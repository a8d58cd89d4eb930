package config

import "reflect"

// These comparisons run once per ConfigStore.replace, never on the request
// hot path, so reflect.DeepEqual's cost is immaterial; it also sidesteps
// having to hand-maintain a field-by-field comparator per section as the
// schema grows.

func mapsEqualProviders(a, b map[string]ProviderRecord) bool { return reflect.DeepEqual(a, b) }
func mapsEqualModels(a, b map[string]ModelAlias) bool        { return reflect.DeepEqual(a, b) }
func mapsEqualKeys(a, b map[string]KeyEntry) bool             { return reflect.DeepEqual(a, b) }
func mapsEqualQuotas(a, b map[string]QuotaEntry) bool         { return reflect.DeepEqual(a, b) }
