// Package inbound serves the OCPI receiver interface over go-chi: version
// discovery, the credentials module and PUT/PATCH/GET on synchronized
// resources. Version discovery answers anonymous callers; every other route
// authenticates the caller through core.Service.Authorize.
package inbound
