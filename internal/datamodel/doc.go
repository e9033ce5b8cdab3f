// Package datamodel loads the static Matter data model for Matterverse Core.
//
// The data model is shipped as ZAP XML definition files: one directory of
// cluster definitions (attributes, commands, enums, bitmaps) and one of
// device type definitions. The Dictionary parses them once at startup and
// serves lookups for every other component:
//
//   - the command dispatcher validates cluster/command pairs before
//     spawning chip-tool
//   - the registry coerces raw attribute strings using attribute types
//   - the bus publisher derives Homie datatypes and enum formats
//
// # Naming
//
// Three name forms appear throughout:
//
//   - spec name: "On/Off", "Level Control" (XML <name>)
//   - cluster token: "onoff", "levelcontrol" (chip-tool argument form)
//   - wire name: "on-off", "current-level" (kebab-case attribute form)
//
// Cluster.Token, Attribute.WireName, KebabCase and CamelCase implement the
// conversions.
//
// # Thread Safety
//
// The Dictionary is immutable after Load, so all lookups are safe for
// concurrent use without locking.
package datamodel
