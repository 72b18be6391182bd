// Package forecast predicts hourly ride demand per zone.
//
// Providers are trained on past ride requests and queried by the simulation
// at a fixed cadence. Predictions are advisory: they are broadcast and
// recorded but never change matching or surge decisions.
package forecast
