// Package linkops is the handler the elevated helper runs for
// link-operations requests.
//
// link-file creates any missing parent directories, drops a tag file into
// each one so they can be recognised later, replaces whatever sits at the
// destination and creates the symbolic link. remove-link only ever removes
// symbolic links; a missing destination counts as success and a regular file
// is left alone. After a link is removed, parent directories holding nothing
// but the tag file are removed as well.
package linkops
