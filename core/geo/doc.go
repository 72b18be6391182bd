// Package geo holds the spherical and planar helpers used by the simulation:
// great-circle distance and bearing, forward navigation, heading steering and
// polygon sampling. Coordinates are degrees in lon/lat order.
package geo
