package handlers

import "github.com/gorilla/mux"

// packagePattern matches plain and scoped package names in one path
// variable; scoped names keep their slash.
const packagePattern = `{package:(?:@[^/]+/)?[^/@][^/]*}`

func (app *App) registerRoutes() {
	router := mux.NewRouter()

	router.HandleFunc("/-/ping", app.ping).Methods("GET")
	router.HandleFunc("/-/v1/search", app.search).Methods("GET")

	router.HandleFunc("/-/package/"+packagePattern+"/dist-tags", app.listDistTags).Methods("GET")
	router.HandleFunc("/-/package/"+packagePattern+"/dist-tags", app.replaceDistTags).Methods("PUT", "POST")
	router.HandleFunc("/-/package/"+packagePattern+"/dist-tags/{tag}", app.putDistTag).Methods("PUT", "POST")
	router.HandleFunc("/-/package/"+packagePattern+"/dist-tags/{tag}", app.deleteDistTag).Methods("DELETE")

	router.HandleFunc("/-/npm/v1/tokens", app.listTokens).Methods("GET")
	router.HandleFunc("/-/npm/v1/tokens", app.createToken).Methods("POST")
	router.HandleFunc("/-/npm/v1/tokens/token/{key}", app.deleteToken).Methods("DELETE")

	router.HandleFunc("/"+packagePattern+"/-/{filename}/-rev/{rev}", app.deleteTarball).Methods("DELETE")
	router.HandleFunc("/"+packagePattern+"/-/{filename}", app.getTarball).Methods("GET")

	router.HandleFunc("/"+packagePattern+"/-rev/{rev}", app.changePackage).Methods("PUT")
	router.HandleFunc("/"+packagePattern+"/-rev/{rev}", app.removePackage).Methods("DELETE")

	router.HandleFunc("/"+packagePattern, app.getPackage).Methods("GET")
	router.HandleFunc("/"+packagePattern, app.publish).Methods("PUT")

	router.HandleFunc("/"+packagePattern+"/{version}", app.getVersion).Methods("GET")
	router.HandleFunc("/"+packagePattern+"/{tag}", app.putTag).Methods("PUT")

	app.router = router
}
