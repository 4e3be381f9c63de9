// Command resetpw manages the server password from the command line,
// for recovering access when the web password is lost.
package main
