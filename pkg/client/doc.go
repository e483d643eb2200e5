/*
Package client is the job submission library.

SubmitJob opens a connection, submits one task per argument and blocks
until the foreman delivers the ordered result list. If the caller's
connection dies before the job finishes, the results stay on the
foreman; GetResults fetches them from any later connection, which is
why callers that plan to reconnect pin their job identifier with
WithJobID.
*/
package client
