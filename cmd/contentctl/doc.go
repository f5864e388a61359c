// Package main (cmd/contentctl) is the command-line client of the content
// layer.
//
// By default every command builds the service in-process from the same
// configuration the server uses, so content fetched or downloaded for offline
// use lands in the local durable storage. With --server the commands are sent
// to a running contentserver instead.
//
// Example usage:
//
//	contentctl --config content.toml fetch quran-page-001 -o page1.png
//	contentctl --publish file:///srv/ebizimba upload --title "Luganda Dictionary" dictionary.pdf
//	contentctl --durable file --durable-path ~/.ebizimba offline quran-page-001 quran-page-020
//	contentctl --server http://127.0.0.1:8080 status
package main
